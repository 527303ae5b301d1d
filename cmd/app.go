// File: cmd/app.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/browser"
	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/observability"
	"github.com/xkilldash9x/chatloom/internal/orchestrator"
	"github.com/xkilldash9x/chatloom/internal/store"
)

// shutdownTimeout bounds how long closing the browsers may take.
const shutdownTimeout = 15 * time.Second

// Function variables so tests can swap the browser host and the store.
var (
	newHostProvider = func(cfg config.Interface, logger *zap.Logger) orchestrator.HostProvider {
		return browser.NewManager(logger, cfg.Browser())
	}
	openStore = store.New
)

// app bundles the components a command needs to talk to the services.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
}

// newApp opens the transcript store and builds the orchestrator. When a selectors
// file is configured it is applied and then watched for edits until Close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.GetLogger()

	st, err := openStore(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(cfg, newHostProvider(cfg, logger), st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a := &app{cfg: cfg, logger: logger, store: st, orch: orch, cancel: cancel}

	if path := cfg.SelectorsFile(); path != "" {
		descs, err := config.LoadServicesFile(path)
		if err != nil {
			a.Close()
			return nil, err
		}
		orch.ApplyDescriptors(descs)

		updates, err := config.WatchServices(watchCtx, path, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		go orch.Watch(watchCtx, updates)
	}
	return a, nil
}

// Close shuts the browsers down and closes the store.
func (a *app) Close() error {
	a.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []string
	if err := a.orch.Close(ctx); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("failed to close store: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveServices expands the --service values. An empty list selects every
// enabled service; unknown IDs are rejected before any browser is started.
func (a *app) resolveServices(requested []string) ([]string, error) {
	if len(requested) == 0 {
		ids := a.orch.Enabled()
		if len(ids) == 0 {
			return nil, fmt.Errorf("no enabled services")
		}
		return ids, nil
	}
	known := make(map[string]bool)
	for _, d := range a.orch.Descriptors() {
		known[d.ID] = true
	}
	var ids []string
	seen := make(map[string]bool)
	for _, raw := range requested {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			if !known[id] {
				return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnknownService, id)
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// serviceName returns the display name of a service, or its ID.
func (a *app) serviceName(id string) string {
	for _, d := range a.orch.Descriptors() {
		if d.ID == id && d.Name != "" {
			return d.Name
		}
	}
	return id
}
