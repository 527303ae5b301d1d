// File: cmd/chat.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatloom/internal/render"
)

func newChatCmd() *cobra.Command {
	var (
		service string
		timeout time.Duration
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold an interactive conversation with one service",
		Long: `Starts a prompt loop against a single service. Lines are sent as prompts,
except for the commands:

  /new      start a new conversation
  /history  print the conversation visible on the page
  /exit     leave the loop`,
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
			return runChat(cmd.Context(), a, r, ids[0], timeout, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "service ID to chat with")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "how long to wait for each reply (default adapter.response_timeout)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print replies as plain text")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func runChat(ctx context.Context, a *app, r *render.Renderer, id string, timeout time.Duration, in io.Reader, out io.Writer) error {
	name := a.serviceName(id)
	if err := a.orch.Open(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Chatting with %s. Type /exit to leave.\n", name)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprintf(out, "%s > ", id)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/new":
			convID, err := a.orch.NewChat(ctx, id)
			if err != nil {
				fmt.Fprintln(out, r.Error(name, err))
				continue
			}
			fmt.Fprintf(out, "New conversation %s.\n", convID)
		case line == "/history":
			turns, err := a.orch.History(ctx, id)
			if err != nil {
				fmt.Fprintln(out, r.Error(name, err))
				continue
			}
			printTurns(out, r, name, turns)
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(out, "Unknown command %s. Use /new, /history or /exit.\n", line)
		default:
			reply, err := a.orch.Ask(ctx, id, line, timeout)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintln(out, r.Error(name, err))
				continue
			}
			fmt.Fprintln(out, r.Reply(name, replyMeta(reply), reply.Text))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
