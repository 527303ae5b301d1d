// File: internal/adapter/probe.go
package adapter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/host"
)

// Match is a node found by the probe together with the selector that found it.
type Match struct {
	Selector string
	Node     host.Node
}

// Probe resolves ordered selector alternatives to live elements.
type Probe struct {
	host     host.Host
	clock    Clock
	interval time.Duration
	logger   *zap.Logger
}

// NewProbe creates a probe that polls every interval while waiting.
func NewProbe(h host.Host, clock Clock, interval time.Duration, logger *zap.Logger) *Probe {
	return &Probe{host: h, clock: clock, interval: interval, logger: logger.Named("probe")}
}

// FindInteractable returns the first selector, in order, that yields an interactable
// element. Query failures on a single selector are treated as no match.
func (p *Probe) FindInteractable(ctx context.Context, selectors []string) (Match, bool, error) {
	for _, sel := range selectors {
		nodes, err := p.host.QueryAll(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return Match{}, false, ctx.Err()
			}
			p.logger.Debug("Selector query failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		for _, n := range nodes {
			if n.Interactable() {
				return Match{Selector: sel, Node: n}, true, nil
			}
		}
	}
	return Match{}, false, nil
}

// FirstVisible returns the first visible element matching any of the selectors.
func (p *Probe) FirstVisible(ctx context.Context, selectors []string) (host.Node, bool, error) {
	for _, sel := range selectors {
		nodes, err := p.host.QueryAll(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return host.Node{}, false, ctx.Err()
			}
			continue
		}
		for _, n := range nodes {
			if n.Visible() {
				return n, true, nil
			}
		}
	}
	return host.Node{}, false, nil
}

// AnyVisible reports whether any of the selectors matches a visible element.
func (p *Probe) AnyVisible(ctx context.Context, selectors []string) (bool, error) {
	_, ok, err := p.FirstVisible(ctx, selectors)
	return ok, err
}

// WaitForElement polls until one of the selectors yields an interactable element or
// timeout elapses. On timeout it returns a *NotFoundError.
func (p *Probe) WaitForElement(ctx context.Context, selectors []string, timeout time.Duration) (Match, error) {
	start := p.clock.Now()
	for {
		m, ok, err := p.FindInteractable(ctx, selectors)
		if err != nil {
			return Match{}, err
		}
		if ok {
			return m, nil
		}
		if p.clock.Now().Sub(start) >= timeout {
			return Match{}, &NotFoundError{Selectors: append([]string(nil), selectors...), Timeout: timeout}
		}
		if err := sleepAtMost(ctx, p.clock, p.interval, start, timeout); err != nil {
			return Match{}, err
		}
	}
}

// preferCached moves cached to the front of selectors when it is one of them.
func preferCached(selectors []string, cached string) []string {
	if cached == "" {
		return selectors
	}
	out := make([]string, 0, len(selectors))
	out = append(out, cached)
	found := false
	for _, s := range selectors {
		if s == cached {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return selectors
	}
	return out
}

func isDetached(err error) bool {
	return errors.Is(err, host.ErrDetached)
}
