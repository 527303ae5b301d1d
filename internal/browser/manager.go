// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/browser/humanoid"
	"github.com/xkilldash9x/chatloom/internal/browser/stealth"
	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
)

// Manager owns one browser process per service. Each process runs on its own
// user-data directory so logins persist across runs and services stay isolated.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	persona stealth.Persona

	mu     sync.Mutex
	pages  map[string]*Page
	closed bool

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager creates a manager. Browsers are launched lazily by Open.
func NewManager(logger *zap.Logger, cfg config.BrowserConfig) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		persona: stealth.DefaultPersona.WithUserAgent(cfg.UserAgent),
		pages:   make(map[string]*Page),
	}
}

// ProfileDir returns the user-data directory used for a service.
func (m *Manager) ProfileDir(serviceID string) (string, error) {
	root, err := m.cfg.ResolvedProfileDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, serviceID), nil
}

// Host opens the page for desc and returns it as a host.Host.
func (m *Manager) Host(ctx context.Context, desc config.ServiceDescriptor) (host.Host, error) {
	return m.Open(ctx, desc)
}

// Open returns the page for desc, launching its browser and navigating to the
// service URL on first use.
func (m *Manager) Open(ctx context.Context, desc config.ServiceDescriptor) (*Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	if p, ok := m.pages[desc.ID]; ok && p.ctx.Err() == nil {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	logger := m.logger.With(zap.String("service", desc.ID))
	dir, err := m.ProfileDir(desc.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create profile dir %s: %w", dir, err)
	}

	// The browser outlives the call that opened it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.buildAllocatorOptions(dir)...)
	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	p := &Page{
		service:   desc.ID,
		ctx:       tabCtx,
		cancel:    cancel,
		logger:    logger.Named("page"),
		opTimeout: defaultOpTimeout,
	}
	p.human = humanoid.New(humanoid.Config{
		ClickHoldMinMs: m.cfg.ClickHoldMinMs,
		ClickHoldMaxMs: m.cfg.ClickHoldMaxMs,
		MoveSteps:      humanoid.DefaultConfig().MoveSteps,
		MoveStepMs:     humanoid.DefaultConfig().MoveStepMs,
		Jitter:         humanoid.DefaultConfig().Jitter,
	}, logger, p)

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to launch browser for %s: %w", desc.ID, err)
	}
	if m.cfg.Stealth {
		if err := p.run(ctx, stealth.Apply(m.persona, logger)); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply stealth for %s: %w", desc.ID, err)
		}
	}

	if desc.URL != "" {
		navCtx := ctx
		if m.cfg.NavigationTimeout > 0 {
			var navCancel context.CancelFunc
			navCtx, navCancel = context.WithTimeout(ctx, m.cfg.NavigationTimeout)
			defer navCancel()
		}
		if err := p.Navigate(navCtx, desc.URL); err != nil {
			cancel()
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		cancel()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	if existing, ok := m.pages[desc.ID]; ok && existing.ctx.Err() == nil {
		// Lost a race with a concurrent Open for the same service.
		cancel()
		return existing, nil
	}
	m.wg.Add(1)
	p.onClose = func() {
		m.mu.Lock()
		if m.pages[desc.ID] == p {
			delete(m.pages, desc.ID)
		}
		m.mu.Unlock()
		m.wg.Done()
	}
	m.pages[desc.ID] = p
	logger.Info("Browser page opened.", zap.String("url", desc.URL), zap.String("profile", dir))
	return p, nil
}

// ClosePage closes the page of one service if it is open.
func (m *Manager) ClosePage(serviceID string) {
	m.mu.Lock()
	p := m.pages[serviceID]
	m.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

// buildAllocatorOptions assembles the flags for a stealthy, configurable browser instance.
func (m *Manager) buildAllocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.UserDataDir(profileDir),
		chromedp.UserAgent(m.persona.UserAgent),
	)
	if m.cfg.Headless {
		opts = append(opts, chromedp.DisableGPU)
	}
	if m.cfg.WindowWidth > 0 && m.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// Shutdown closes every page and waits for them to finish, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated.", zap.Int("pages", len(pages)))
	for _, p := range pages {
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("All browser pages closed.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded.", zap.Error(ctx.Err()))
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for browser pages to close")
	}
}
