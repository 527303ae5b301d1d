// File: cmd/ask.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatloom/internal/orchestrator"
	"github.com/xkilldash9x/chatloom/internal/render"
)

type askOptions struct {
	services []string
	timeout  time.Duration
	raw      bool
	newChat  bool
}

func newAskCmd() *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a prompt to one or more services and print the replies",
		Long: `Sends the prompt to every selected service and prints each reply as it was
rendered by the site. With no --service every enabled service is asked at once.
When no prompt argument is given it is read from standard input.`,
		Example: `  chatloom ask --service claude "Summarize RFC 9110 in three bullets"
  chatloom ask -s chatgpt -s gemini --timeout 2m "Compare these answers"
  cat question.md | chatloom ask -s copilot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runAsk(cmd.Context(), a, cmd.OutOrStdout(), prompt, opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.services, "service", "s", nil, "service ID to ask (repeatable, default all enabled)")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 0, "how long to wait for each reply (default adapter.response_timeout)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print replies as plain text")
	cmd.Flags().BoolVar(&opts.newChat, "new", false, "start a new conversation before asking")
	return cmd
}

// readPrompt joins args, falling back to stdin when there are none.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" && stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

func runAsk(ctx context.Context, a *app, out io.Writer, prompt string, opts *askOptions) error {
	ids, err := a.resolveServices(opts.services)
	if err != nil {
		return err
	}
	r, err := render.New(render.Options{Raw: opts.raw})
	if err != nil {
		return err
	}

	if opts.newChat {
		for _, id := range ids {
			if _, err := a.orch.NewChat(ctx, id); err != nil {
				return err
			}
		}
	}

	if len(ids) == 1 {
		reply, err := a.orch.Ask(ctx, ids[0], prompt, opts.timeout)
		if err != nil {
			return fmt.Errorf("%s: %w", ids[0], err)
		}
		fmt.Fprintln(out, r.Reply(a.serviceName(reply.Service), replyMeta(reply), reply.Text))
		return nil
	}

	replies := a.orch.Broadcast(ctx, ids, prompt, opts.timeout)
	failed := 0
	for _, reply := range replies {
		if reply.Err != nil {
			failed++
			fmt.Fprintln(out, r.Error(a.serviceName(reply.Service), reply.Err))
			continue
		}
		fmt.Fprintln(out, r.Reply(a.serviceName(reply.Service), replyMeta(reply), reply.Text))
	}
	if failed == len(replies) {
		return fmt.Errorf("all %d services failed", failed)
	}
	return nil
}

func replyMeta(r orchestrator.Reply) string {
	return r.Latency.Round(100 * time.Millisecond).String()
}
