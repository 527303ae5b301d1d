// File: internal/adapter/adapter.go
package adapter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
	"github.com/xkilldash9x/chatloom/internal/observability"
)

// Host is the page runtime an adapter drives.
type Host = host.Host

// Status is the lifecycle position of an adapter.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusReady         Status = "ready"
	StatusBusy          Status = "busy"
	StatusFailed        Status = "failed"
)

// State is a snapshot of the adapter's readiness. Ready reflects the last probe only,
// the page can change at any time.
type State struct {
	Status        Status
	Initialized   bool
	Ready         bool
	InputSelector string
	LastError     string
}

// Options configure a new Adapter. Zero values select the defaults.
type Options struct {
	Logger  *zap.Logger
	Clock   Clock
	Timings config.AdapterConfig
	// Hooks overrides the hooks registered for the service.
	Hooks *Hooks
}

// components is the set of collaborators built from one descriptor.
type components struct {
	desc       config.ServiceDescriptor
	timings    config.AdapterConfig
	hooks      Hooks
	loginRes   []*regexp.Regexp
	probe      *Probe
	input      *InputController
	submit     *SubmissionController
	extractor  *ResponseExtractor
	completion *CompletionDetector
	sentinel   *Sentinel
}

// Adapter turns one chat website into a request/response channel.
// Operations are not reentrant: a call made while another is running fails with ErrBusy.
type Adapter struct {
	id      string
	host    host.Host
	clock   Clock
	base    config.AdapterConfig
	hookOpt *Hooks
	logger  *zap.Logger

	busy atomic.Bool

	mu       sync.Mutex
	parts    *components
	state    State
	baseline *Baseline
}

// New creates an adapter for desc on the given host. It does not touch the page.
func New(h host.Host, desc config.ServiceDescriptor, opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Timings.StableSamples == 0 {
		opts.Timings = config.NewDefaultConfig().Adapter()
	}

	id := uuid.NewString()
	a := &Adapter{
		id:      id,
		host:    h,
		clock:   opts.Clock,
		base:    opts.Timings,
		hookOpt: opts.Hooks,
		logger:  opts.Logger.Named("adapter").With(zap.String("service", desc.ID), zap.String("adapter_id", id)),
		state:   State{Status: StatusUninitialized},
	}
	a.parts = a.build(desc)
	return a
}

func (a *Adapter) build(desc config.ServiceDescriptor) *components {
	timings := a.base.Merge(desc.Timings)
	hooks := HooksFor(desc.ID)
	if a.hookOpt != nil {
		hooks = *a.hookOpt
	}

	var loginRes []*regexp.Regexp
	for _, p := range desc.LoginURLPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			a.logger.Warn("Skipping invalid login URL pattern.", zap.String("pattern", p), zap.Error(err))
			continue
		}
		loginRes = append(loginRes, re)
	}

	probe := NewProbe(a.host, a.clock, timings.ProbeInterval, a.logger)
	extractor := NewResponseExtractor(a.host, desc.Selectors, hooks, desc.ChromePhrases, a.logger)
	return &components{
		desc:       desc,
		timings:    timings,
		hooks:      hooks,
		loginRes:   loginRes,
		probe:      probe,
		input:      NewInputController(a.host, a.logger),
		submit:     NewSubmissionController(a.host, probe, desc.Selectors.SendButton, a.logger),
		extractor:  extractor,
		completion: NewCompletionDetector(a.host, probe, extractor, desc.Selectors, hooks, timings, a.clock, a.logger),
		sentinel:   NewSentinel(a.host, probe, desc.Selectors.Input, a.clock, timings.SentinelCeiling, timings.SentinelInterval, a.logger),
	}
}

// ID returns the adapter instance ID.
func (a *Adapter) ID() string { return a.id }

// Service returns the descriptor currently in effect.
func (a *Adapter) Service() config.ServiceDescriptor {
	return a.snapshot().desc
}

// State returns a snapshot of the adapter state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// UpdateDescriptor swaps in a new descriptor. It takes effect on the next operation
// and discards the cached input selector.
func (a *Adapter) UpdateDescriptor(desc config.ServiceDescriptor) {
	parts := a.build(desc)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parts = parts
	a.state.InputSelector = ""
	a.state.Ready = false
	a.logger.Info("Service descriptor updated.")
}

// Reset returns the adapter to the uninitialized state.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{Status: StatusUninitialized}
	a.baseline = nil
}

// Log writes through the adapter's logger at the named level.
func (a *Adapter) Log(level, message string, data map[string]any) {
	observability.Log(a.logger, level, message, data)
}

func (a *Adapter) snapshot() *components {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parts
}

func (a *Adapter) setState(fn func(s *State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.state)
}

// acquire marks the adapter busy. The returned function releases it.
func (a *Adapter) acquire(markBusy bool) (func(), error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if markBusy {
		a.setState(func(s *State) {
			if s.Status == StatusReady {
				s.Status = StatusBusy
			}
		})
	}
	return func() {
		if markBusy {
			a.setState(func(s *State) {
				if s.Status == StatusBusy {
					s.Status = StatusReady
				}
			})
		}
		a.busy.Store(false)
	}, nil
}

// -- Initialization --

// Initialize waits for the page, clears interstitials, checks the login state and
// finds the input. Any failure leaves the adapter in StatusFailed.
func (a *Adapter) Initialize(ctx context.Context) error {
	release, err := a.acquire(false)
	if err != nil {
		return err
	}
	defer release()
	return a.initialize(ctx)
}

func (a *Adapter) initialize(ctx context.Context) (err error) {
	parts := a.snapshot()
	a.setState(func(s *State) {
		s.Status = StatusInitializing
		s.Initialized = false
		s.Ready = false
	})
	started := a.clock.Now()
	defer func() {
		a.setState(func(s *State) {
			if err != nil {
				s.Status = StatusFailed
				s.LastError = err.Error()
				return
			}
			s.Status = StatusReady
			s.LastError = ""
		})
		if err != nil {
			a.logger.Warn("Initialization failed.", zap.Error(err))
		}
	}()

	if err := a.waitForLoad(ctx, parts); err != nil {
		return err
	}

	verdict, err := parts.sentinel.Detect(ctx)
	if err != nil {
		return fmt.Errorf("anti-automation scan: %w", err)
	}
	if verdict.Detected {
		ok, err := parts.sentinel.Mitigate(ctx, verdict)
		if err != nil {
			return fmt.Errorf("anti-automation mitigation: %w", err)
		}
		if !ok {
			return &AntiAutomationError{Verdict: verdict}
		}
	}

	url, err := a.host.URL(ctx)
	if err != nil {
		return fmt.Errorf("read page url: %w", err)
	}
	if re := matchLogin(parts.loginRes, url); re != nil {
		return &LoginRequiredError{URL: url, Reason: "login url matched " + re.String()}
	}

	m, err := a.probeInput(ctx, parts)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if visible, verr := parts.probe.AnyVisible(ctx, parts.desc.Selectors.LoginButton); verr == nil && visible {
				return &LoginRequiredError{URL: url, Reason: "login button visible and no chat input"}
			}
		}
		return fmt.Errorf("probe input: %w", err)
	}

	a.setState(func(s *State) {
		s.Initialized = true
		s.Ready = true
		s.InputSelector = m.Selector
	})
	a.logger.Info("Adapter ready.", zap.String("input_selector", m.Selector), zap.Duration("took", a.clock.Now().Sub(started)))
	return nil
}

func (a *Adapter) waitForLoad(ctx context.Context, parts *components) error {
	start := a.clock.Now()
	limit := parts.timings.LoadTimeout
	for {
		state, err := a.host.ReadyState(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && state == "complete" {
			return nil
		}
		elapsed := a.clock.Now().Sub(start)
		if elapsed >= limit {
			return &TimeoutError{Phase: "page load", Timeout: limit, Elapsed: elapsed, Err: ErrPageLoadTimeout}
		}
		if err := sleepAtMost(ctx, a.clock, parts.timings.ProbeInterval, start, limit); err != nil {
			return err
		}
	}
}

func (a *Adapter) probeInput(ctx context.Context, parts *components) (Match, error) {
	selectors := preferCached(parts.desc.Selectors.Input, a.State().InputSelector)
	m, err := parts.probe.WaitForElement(ctx, selectors, parts.timings.ProbeTimeout)
	if err != nil {
		return Match{}, err
	}
	a.setState(func(s *State) { s.InputSelector = m.Selector })
	return m, nil
}

func matchLogin(patterns []*regexp.Regexp, url string) *regexp.Regexp {
	for _, re := range patterns {
		if re.MatchString(url) {
			return re
		}
	}
	return nil
}

// CheckReady reports whether a message could be sent right now. It has no side effects.
func (a *Adapter) CheckReady(ctx context.Context) (bool, error) {
	return a.checkReady(ctx, a.snapshot())
}

func (a *Adapter) checkReady(ctx context.Context, parts *components) (bool, error) {
	sel := parts.desc.Selectors

	if _, ok, err := parts.probe.FindInteractable(ctx, preferCached(sel.Input, a.State().InputSelector)); err != nil || !ok {
		return false, err
	}
	if len(sel.SendButton) > 0 {
		if _, ok, err := parts.probe.FindInteractable(ctx, sel.SendButton); err != nil || !ok {
			return false, err
		}
	}
	busy, err := parts.probe.AnyVisible(ctx, append(append([]string(nil), sel.LoadingIndicator...), sel.StopButton...))
	if err != nil {
		return false, err
	}
	return !busy, nil
}

// -- Messaging --

// SendMessage types text into the input and submits it.
func (a *Adapter) SendMessage(ctx context.Context, text string) error {
	release, err := a.acquire(true)
	if err != nil {
		return err
	}
	defer release()
	return a.sendMessage(ctx, text)
}

func (a *Adapter) sendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	parts := a.snapshot()
	ready := a.State().Ready
	if ready {
		// The page may have moved to a login route or a challenge since the last turn.
		ok, err := a.checkReady(ctx, parts)
		if err != nil {
			return err
		}
		ready = ok
	}
	if !ready {
		if err := a.initialize(ctx); err != nil {
			return err
		}
		a.setState(func(s *State) { s.Status = StatusBusy })
	}

	baseline, err := parts.completion.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture baseline: %w", err)
	}

	method, err := a.compose(ctx, parts, text)
	if err != nil && errors.Is(err, ErrStaleElement) {
		a.logger.Debug("Input went stale, probing again.", zap.Error(err))
		method, err = a.compose(ctx, parts, text)
	}
	if err != nil {
		a.setState(func(s *State) { s.Ready = false })
		return err
	}

	a.mu.Lock()
	a.baseline = &baseline
	a.mu.Unlock()
	a.logger.Info("Message sent.", zap.Int("chars", len([]rune(text))), zap.String("method", string(method)))
	return nil
}

// compose runs clear, settle, inject, settle, submit against a freshly probed input.
func (a *Adapter) compose(ctx context.Context, parts *components, text string) (SubmitMethod, error) {
	m, err := a.probeInput(ctx, parts)
	if err != nil {
		return "", fmt.Errorf("probe input: %w", err)
	}
	if err := parts.input.Clear(ctx, m.Node); err != nil {
		return "", err
	}
	if err := a.clock.Sleep(ctx, parts.timings.SettleDelay); err != nil {
		return "", err
	}
	if err := parts.input.Inject(ctx, m.Node, text); err != nil {
		return "", err
	}
	if err := a.clock.Sleep(ctx, parts.timings.SettleDelay); err != nil {
		return "", err
	}
	return parts.submit.Submit(ctx, m.Node)
}

// GetResponse waits for the reply to the last sent message and returns its text.
// A zero timeout uses the configured response timeout.
func (a *Adapter) GetResponse(ctx context.Context, timeout time.Duration) (string, error) {
	release, err := a.acquire(true)
	if err != nil {
		return "", err
	}
	defer release()
	return a.getResponse(ctx, timeout)
}

func (a *Adapter) getResponse(ctx context.Context, timeout time.Duration) (string, error) {
	parts := a.snapshot()
	if timeout <= 0 {
		timeout = parts.timings.ResponseTimeout
	}

	a.mu.Lock()
	baseline := a.baseline
	a.baseline = nil
	a.mu.Unlock()
	if baseline == nil {
		b, err := parts.completion.Capture(ctx)
		if err != nil {
			return "", fmt.Errorf("capture baseline: %w", err)
		}
		baseline = &b
	}

	phase, err := parts.completion.Run(ctx, *baseline, timeout)
	if err != nil {
		a.logger.Warn("Waiting for response failed.", zap.Stringer("phase", phase), zap.Error(err))
		return "", err
	}

	text, err := parts.completion.Reply(ctx, *baseline)
	if err != nil {
		return "", fmt.Errorf("extract response: %w", err)
	}
	if parts.hooks.Clean != nil {
		text = parts.hooks.Clean(text)
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	a.logger.Info("Response received.", zap.Int("chars", len([]rune(text))))
	return text, nil
}

// Ask sends text and waits for the reply while holding the adapter for both steps.
func (a *Adapter) Ask(ctx context.Context, text string, timeout time.Duration) (string, error) {
	release, err := a.acquire(true)
	if err != nil {
		return "", err
	}
	defer release()
	if err := a.sendMessage(ctx, text); err != nil {
		return "", err
	}
	return a.getResponse(ctx, timeout)
}

// ClearConversation starts a new chat. Without a usable new-chat control the page is
// reloaded and the adapter returns to StatusUninitialized.
func (a *Adapter) ClearConversation(ctx context.Context) error {
	release, err := a.acquire(true)
	if err != nil {
		return err
	}
	defer release()

	parts := a.snapshot()
	a.mu.Lock()
	a.baseline = nil
	a.mu.Unlock()

	m, ok, err := parts.probe.FindInteractable(ctx, parts.desc.Selectors.NewChatButton)
	if err != nil {
		return err
	}
	if ok {
		if err := a.host.Click(ctx, m.Node.Ref); err != nil {
			return fmt.Errorf("click new chat %q: %w", m.Selector, err)
		}
		if err := a.clock.Sleep(ctx, parts.timings.NewChatSettle); err != nil {
			return err
		}
		if _, err := a.probeInput(ctx, parts); err != nil {
			a.setState(func(s *State) { s.Ready = false })
			return fmt.Errorf("probe input after new chat: %w", err)
		}
		a.setState(func(s *State) { s.Ready = true })
		a.logger.Info("Started a new conversation.")
		return nil
	}

	a.logger.Info("No new chat control, reloading the page.")
	if err := a.host.Reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	a.setState(func(s *State) {
		*s = State{Status: StatusUninitialized, InputSelector: s.InputSelector}
	})
	return nil
}
