// File: cmd/transcripts.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatloom/internal/observability"
	"github.com/xkilldash9x/chatloom/internal/render"
	"github.com/xkilldash9x/chatloom/internal/store"
)

func newTranscriptsCmd() *cobra.Command {
	var (
		service string
		limit   int
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Print the exchanges recorded in the transcript store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Store(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			turns, err := st.ListTurns(cmd.Context(), service, limit)
			if err != nil {
				return err
			}
			r, err := render.New(render.Options{Raw: raw})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintln(out, "No transcripts recorded.")
				return nil
			}
			for _, t := range turns {
				label := t.Service
				if t.Role == store.RoleUser {
					label = "you → " + t.Service
				}
				meta := t.CreatedAt.Local().Format("2006-01-02 15:04:05") + " " + shortID(t.ConversationID)
				fmt.Fprintln(out, r.Reply(label, meta, t.Content))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "only show this service")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent turns to show (0 for all)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print turns as plain text")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
