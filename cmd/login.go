// File: cmd/login.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/browser"
	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/observability"
	"github.com/xkilldash9x/chatloom/internal/orchestrator"
)

func newLoginCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a browser window on a service's profile to sign in by hand",
		Long: `Launches a visible browser on the service's persistent profile and waits.
Sign in, then close the window or press Ctrl+C. The session cookies stay in the
profile and are reused by every later command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			descs, err := configuredServices(cfg)
			if err != nil {
				return err
			}
			desc, ok := config.FindService(descs, service)
			if !ok {
				return fmt.Errorf("%w: %s", orchestrator.ErrUnknownService, service)
			}
			cfg.SetBrowserHeadless(false)
			return runLogin(cmd.Context(), cmd, cfg, desc)
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "service ID to sign in to")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, cfg config.Interface, desc config.ServiceDescriptor) error {
	logger := observability.GetLogger()
	m := browser.NewManager(logger, cfg.Browser())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown failed.", zap.Error(err))
		}
	}()

	page, err := m.Open(ctx, desc)
	if err != nil {
		return err
	}
	dir, _ := m.ProfileDir(desc.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Sign in to %s in the browser window.\nProfile: %s\nClose the window or press Ctrl+C when done.\n", desc.Name, dir)

	select {
	case <-ctx.Done():
	case <-page.Context().Done():
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Login session saved.")
	return nil
}
