// File: cmd/status.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatloom/internal/adapter"
	"github.com/xkilldash9x/chatloom/internal/orchestrator"
	"github.com/xkilldash9x/chatloom/internal/render"
)

func newStatusCmd() *cobra.Command {
	var (
		services []string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Open the services and report readiness and login state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.resolveServices(services)
			if err != nil {
				return err
			}
			r, err := render.New(render.Options{Raw: raw})
			if err != nil {
				return err
			}
			openErr := a.orch.Open(cmd.Context(), ids...)
			if openErr != nil {
				a.logger.Warn(openErr.Error())
			}
			statuses := a.orch.Status(cmd.Context())
			reported := make(map[string]bool, len(statuses))
			for _, st := range statuses {
				reported[st.Service] = true
				printStatus(cmd.OutOrStdout(), r, st)
			}
			for _, id := range ids {
				if !reported[id] {
					fmt.Fprintln(cmd.OutOrStdout(), r.Header(a.serviceName(id), id))
					fmt.Fprintln(cmd.OutOrStdout(), r.StatusLine("state", "not opened", render.LevelError))
				}
			}
			return openErr
		},
	}
	cmd.Flags().StringSliceVarP(&services, "service", "s", nil, "service ID to check (repeatable, default all enabled)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print without colors")
	return cmd
}

func printStatus(out io.Writer, r *render.Renderer, st orchestrator.ServiceStatus) {
	name := st.Name
	if name == "" {
		name = st.Service
	}
	fmt.Fprintln(out, r.Header(name, st.Service))

	level := render.LevelOK
	switch st.State.Status {
	case adapter.StatusFailed:
		level = render.LevelError
	case adapter.StatusUninitialized, adapter.StatusInitializing:
		level = render.LevelWarn
	}
	fmt.Fprintln(out, r.StatusLine("state", string(st.State.Status), level))
	if st.State.LastError != "" {
		fmt.Fprintln(out, r.StatusLine("last error", st.State.LastError, render.LevelError))
	}
	if st.Err != nil {
		fmt.Fprintln(out, r.StatusLine("check", st.Err.Error(), render.LevelError))
		return
	}

	if st.Login.LoggedIn {
		fmt.Fprintln(out, r.StatusLine("login", "ok", render.LevelOK))
	} else {
		fmt.Fprintln(out, r.StatusLine("login", "required ("+st.Login.Reason+")", render.LevelWarn))
	}
	if v := st.Login.Verdict; v.Detected {
		fmt.Fprintln(out, r.StatusLine("automation", fmt.Sprintf("%s: %q", v.Kind, v.MatchedText), render.LevelError))
	} else {
		fmt.Fprintln(out, r.StatusLine("automation", "not detected", render.LevelOK))
	}
	fmt.Fprintln(out, r.StatusLine("url", st.Login.URL, render.LevelOK))
}
