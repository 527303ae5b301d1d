// File: cmd/history.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatloom/internal/adapter"
	"github.com/xkilldash9x/chatloom/internal/render"
)

func newHistoryCmd() *cobra.Command {
	var (
		service       string
		raw           bool
		conversations bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation currently shown on a service's page",
		Long: `Opens the service and reads the conversation back from the page. With
--conversations the titles listed in the sidebar are printed instead.
Use 'transcripts' for the exchanges recorded by chatloom itself.`,
		Args: cobra.NoArgs,
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

			ids, err := a.resolveServices([]string{service})
			if err != nil {
				return err
			}
			r, err := render.New(render.Options{Raw: raw})
			if err != nil {
				return err
			}
			id, name, out := ids[0], a.serviceName(ids[0]), cmd.OutOrStdout()

			if conversations {
				titles, err := a.orch.Conversations(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, r.Header(name, fmt.Sprintf("%d conversations", len(titles))))
				for _, t := range titles {
					fmt.Fprintln(out, "  "+t)
				}
				return nil
			}

			turns, err := a.orch.History(cmd.Context(), id)
			if err != nil {
				return err
			}
			printTurns(out, r, name, turns)
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "service ID to read")
	cmd.Flags().BoolVar(&raw, "raw", false, "print turns as plain text")
	cmd.Flags().BoolVar(&conversations, "conversations", false, "list sidebar conversation titles instead")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func printTurns(out io.Writer, r *render.Renderer, name string, turns []adapter.ConversationTurn) {
	if len(turns) == 0 {
		fmt.Fprintf(out, "No conversation visible on %s.\n", name)
		return
	}
	for _, t := range turns {
		label := "you"
		if t.Role == adapter.RoleAssistant {
			label = name
		}
		fmt.Fprintln(out, r.Reply(label, fmt.Sprintf("#%d", t.Index+1), t.Content))
	}
}
