// File: internal/orchestrator/orchestrator.go
// Description: Owns one adapter per chat service and runs prompts across them,
// pacing sends and recording every exchange in the transcript store.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/chatloom/internal/adapter"
	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
	"github.com/xkilldash9x/chatloom/internal/store"
)

// ErrUnknownService is returned for a service ID with no descriptor.
var ErrUnknownService = errors.New("unknown service")

// HostProvider opens the page a service's adapter drives.
type HostProvider interface {
	Host(ctx context.Context, desc config.ServiceDescriptor) (host.Host, error)
	ClosePage(serviceID string)
	Shutdown(ctx context.Context) error
}

// Reply is the outcome of one prompt sent to one service.
type Reply struct {
	Service        string
	ConversationID string
	Text           string
	Latency        time.Duration
	Err            error
}

// ServiceStatus reports the readiness of one open service.
type ServiceStatus struct {
	Service string
	Name    string
	State   adapter.State
	Login   adapter.LoginStatus
	Err     error
}

// session is one open service. mu serializes the operations that drive the page,
// so concurrent callers queue instead of failing with adapter.ErrBusy.
type session struct {
	mu             sync.Mutex
	adapter        *adapter.Adapter
	limiter        *rate.Limiter
	conversationID string
}

// Orchestrator manages the adapters of every open service.
type Orchestrator struct {
	cfg      config.Interface
	logger   *zap.Logger
	provider HostProvider
	store    store.Store

	mu       sync.Mutex
	descs    map[string]config.ServiceDescriptor
	sessions map[string]*session
}

// New creates an orchestrator. A nil store disables transcript recording.
func New(cfg config.Interface, provider HostProvider, st store.Store, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil || provider == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if st == nil {
		st = store.Nop{}
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		provider: provider,
		store:    st,
		descs:    make(map[string]config.ServiceDescriptor),
		sessions: make(map[string]*session),
	}
	for _, d := range cfg.Services() {
		o.descs[d.ID] = d
	}
	return o, nil
}

// Descriptors returns the known descriptors sorted by ID.
func (o *Orchestrator) Descriptors() []config.ServiceDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]config.ServiceDescriptor, 0, len(o.descs))
	for _, d := range o.descs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled returns the IDs of every service that is not disabled.
func (o *Orchestrator) Enabled() []string {
	var ids []string
	for _, d := range o.Descriptors() {
		if !d.Disabled {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Open opens and initializes the given services concurrently. A service whose
// page cannot be opened is reported in the returned error; a service whose
// adapter fails to initialize stays open so its state can be inspected.
func (o *Orchestrator) Open(ctx context.Context, ids ...string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := o.session(ctx, id); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return joinSorted(errs)
}

// session returns the open session for id, opening it on first use.
func (o *Orchestrator) session(ctx context.Context, id string) (*session, error) {
	o.mu.Lock()
	if s, ok := o.sessions[id]; ok {
		o.mu.Unlock()
		return s, nil
	}
	desc, ok := o.descs[id]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, id)
	}
	if desc.Disabled {
		return nil, fmt.Errorf("service %s is disabled", id)
	}

	h, err := o.provider.Host(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	a := adapter.New(h, desc, adapter.Options{
		Logger:  o.logger,
		Timings: o.cfg.Adapter(),
	})
	s := &session{
		adapter:        a,
		limiter:        newLimiter(o.cfg.Orchestrator()),
		conversationID: uuid.NewString(),
	}

	// Hold the session while it initializes so early callers wait for it.
	s.mu.Lock()
	defer s.mu.Unlock()
	o.mu.Lock()
	if existing, ok := o.sessions[id]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	o.sessions[id] = s
	o.mu.Unlock()

	if err := a.Initialize(ctx); err != nil {
		o.logger.Warn("Adapter initialization failed.", zap.String("service", id), zap.Error(err))
	}
	return s, nil
}

func newLimiter(cfg config.OrchestratorConfig) *rate.Limiter {
	burst := cfg.SendBurst
	if burst < 1 {
		burst = 1
	}
	if cfg.SendInterval <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(cfg.SendInterval), burst)
}

// Ask sends prompt to one service and waits for the reply, recording both turns.
func (o *Orchestrator) Ask(ctx context.Context, id, prompt string, timeout time.Duration) (Reply, error) {
	reply := Reply{Service: id}
	s, err := o.session(ctx, id)
	if err != nil {
		reply.Err = err
		return reply, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reply.ConversationID = s.conversationID

	if err := s.limiter.Wait(ctx); err != nil {
		reply.Err = err
		return reply, err
	}

	o.record(ctx, store.Turn{
		ConversationID: s.conversationID,
		Service:        id,
		Role:           store.RoleUser,
		Content:        prompt,
	})

	start := time.Now()
	text, err := s.adapter.Ask(ctx, prompt, timeout)
	reply.Latency = time.Since(start)
	if err != nil {
		reply.Err = err
		o.logger.Warn("Ask failed.", zap.String("service", id), zap.Duration("latency", reply.Latency), zap.Error(err))
		return reply, err
	}
	reply.Text = text

	o.record(ctx, store.Turn{
		ConversationID: s.conversationID,
		Service:        id,
		Role:           store.RoleAssistant,
		Content:        text,
		Metadata:       map[string]any{"latency_ms": reply.Latency.Milliseconds()},
	})
	o.logger.Info("Reply received.", zap.String("service", id), zap.Int("chars", len(text)), zap.Duration("latency", reply.Latency))
	return reply, nil
}

func (o *Orchestrator) record(ctx context.Context, t store.Turn) {
	if err := o.store.SaveTurn(ctx, t); err != nil {
		o.logger.Warn("Failed to record transcript turn.", zap.String("service", t.Service), zap.Error(err))
	}
}

// Broadcast sends prompt to every service concurrently. Replies come back in the
// order of ids and carry their own error; one failing service never cancels the others.
func (o *Orchestrator) Broadcast(ctx context.Context, ids []string, prompt string, timeout time.Duration) []Reply {
	replies := make([]Reply, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			r, _ := o.Ask(ctx, id, prompt, timeout)
			replies[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return replies
}

// Status reports every open service, sorted by ID.
func (o *Orchestrator) Status(ctx context.Context) []ServiceStatus {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	sort.Strings(ids)

	out := make([]ServiceStatus, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			o.mu.Lock()
			s := o.sessions[id]
			desc := o.descs[id]
			o.mu.Unlock()

			st := ServiceStatus{Service: id, Name: desc.Name}
			if s == nil {
				st.Err = fmt.Errorf("service %s was closed", id)
				out[i] = st
				return nil
			}
			st.State = s.adapter.State()
			st.Login, st.Err = s.adapter.CheckLoginStatus(ctx)
			out[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// History reconstructs the conversation visible on a service's page.
func (o *Orchestrator) History(ctx context.Context, id string) ([]adapter.ConversationTurn, error) {
	s, err := o.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.GetConversationHistory(ctx), nil
}

// Conversations lists the conversation titles in a service's sidebar.
func (o *Orchestrator) Conversations(ctx context.Context, id string) ([]string, error) {
	s, err := o.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.ListConversations(ctx), nil
}

// NewChat starts a fresh conversation and rotates the transcript conversation ID.
func (o *Orchestrator) NewChat(ctx context.Context, id string) (string, error) {
	s, err := o.session(ctx, id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adapter.ClearConversation(ctx); err != nil {
		return s.conversationID, fmt.Errorf("new chat on %s: %w", id, err)
	}
	s.conversationID = uuid.NewString()
	o.logger.Info("Conversation rotated.", zap.String("service", id), zap.String("conversation_id", s.conversationID))
	return s.conversationID, nil
}

// ConversationID returns the current conversation ID of an open service.
func (o *Orchestrator) ConversationID(id string) (string, bool) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID, true
}

// ApplyDescriptors replaces the known descriptors and pushes them to open
// adapters. Changes take effect on each adapter's next operation.
func (o *Orchestrator) ApplyDescriptors(descs []config.ServiceDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.descs = make(map[string]config.ServiceDescriptor, len(descs))
	for _, d := range descs {
		o.descs[d.ID] = d
		if s, ok := o.sessions[d.ID]; ok {
			s.adapter.UpdateDescriptor(d)
		}
	}
	o.logger.Info("Service descriptors applied.", zap.Int("count", len(descs)))
}

// Watch applies every descriptor set received from updates until it is closed or ctx is done.
func (o *Orchestrator) Watch(ctx context.Context, updates <-chan []config.ServiceDescriptor) {
	for {
		select {
		case <-ctx.Done():
			return
		case descs, ok := <-updates:
			if !ok {
				return
			}
			o.ApplyDescriptors(descs)
		}
	}
}

// CloseService closes one service's adapter and page.
func (o *Orchestrator) CloseService(id string) {
	o.mu.Lock()
	_, ok := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()
	if ok {
		o.provider.ClosePage(id)
	}
}

// Close closes every service and shuts the browser host down.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.sessions = make(map[string]*session)
	o.mu.Unlock()
	if err := o.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down browser host: %w", err)
	}
	o.logger.Info("Orchestrator closed.")
	return nil
}

func joinSorted(errs map[string]error) error {
	if len(errs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	list := make([]error, 0, len(ids))
	for _, id := range ids {
		list = append(list, errs[id])
	}
	return errors.Join(list...)
}
