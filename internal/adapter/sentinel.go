// File: internal/adapter/sentinel.go
package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/host"
)

// Kinds of anti-automation verdicts.
const (
	KindCaptcha      = "captcha"
	KindChallenge    = "challenge"
	KindCDNChallenge = "cdn_challenge"
	KindBlocked      = "blocked"
	KindTitle        = "title"
)

// Verdict is the result of an anti-automation scan.
type Verdict struct {
	Detected    bool
	Kind        string
	MatchedText string
	Visible     bool
}

type rule struct {
	kind     string
	selector string
	text     string
}

// catalogue is scanned in order, the first hit wins. Text rules match the body text
// case-insensitively and only apply while the chat input is unusable, a reply
// that quotes "access denied" must not trip the sentinel.
var catalogue = []rule{
	{kind: KindCaptcha, selector: "iframe[src*='recaptcha'][title*='challenge']"},
	{kind: KindCaptcha, selector: "iframe[src*='hcaptcha']"},
	{kind: KindCaptcha, selector: "iframe[src*='captcha']:not([src*='size=invisible'])"},
	{kind: KindCaptcha, selector: ".g-recaptcha"},
	{kind: KindCaptcha, selector: ".h-captcha"},

	{kind: KindCDNChallenge, selector: "#cf-challenge-running"},
	{kind: KindCDNChallenge, selector: ".cf-browser-verification"},
	{kind: KindCDNChallenge, selector: "iframe[src*='challenges.cloudflare.com']"},
	{kind: KindCDNChallenge, selector: "[id^='cf-chl']"},
	{kind: KindCDNChallenge, selector: "#turnstile-wrapper"},

	{kind: KindChallenge, selector: "#challenge-form"},
	{kind: KindChallenge, selector: "#challenge-stage"},
	{kind: KindChallenge, text: "verify you are human"},
	{kind: KindChallenge, text: "checking your browser"},
	{kind: KindChallenge, text: "are you a robot"},

	{kind: KindBlocked, selector: "#cf-error-details"},
	{kind: KindBlocked, text: "access denied"},
	{kind: KindBlocked, text: "403 forbidden"},
	{kind: KindBlocked, text: "you have been blocked"},
	{kind: KindBlocked, text: "unusual activity"},
}

var titleKeywords = []string{"verification", "challenge", "captcha", "security", "just a moment", "access denied"}

// Sentinel detects and waits out anti-automation interstitials.
type Sentinel struct {
	host     host.Host
	probe    *Probe
	input    []string
	clock    Clock
	ceiling  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewSentinel(h host.Host, probe *Probe, inputSelectors []string, clock Clock, ceiling, interval time.Duration, logger *zap.Logger) *Sentinel {
	return &Sentinel{
		host:     h,
		probe:    probe,
		input:    inputSelectors,
		clock:    clock,
		ceiling:  ceiling,
		interval: interval,
		logger:   logger.Named("sentinel"),
	}
}

// Detect scans the catalogue and returns the first match.
func (s *Sentinel) Detect(ctx context.Context) (Verdict, error) {
	_, inputUsable, err := s.probe.FindInteractable(ctx, s.input)
	if err != nil {
		return Verdict{}, err
	}

	var body *string
	for _, r := range catalogue {
		if r.selector != "" {
			nodes, err := s.host.QueryAll(ctx, r.selector)
			if err != nil {
				if ctx.Err() != nil {
					return Verdict{}, ctx.Err()
				}
				continue
			}
			for _, n := range nodes {
				if n.Visible() {
					return Verdict{Detected: true, Kind: r.kind, MatchedText: r.selector, Visible: true}, nil
				}
			}
			if len(nodes) > 0 {
				s.logger.Debug("Ignoring hidden challenge marker.", zap.String("selector", r.selector))
			}
			continue
		}

		if inputUsable {
			continue
		}
		if body == nil {
			text, err := s.bodyText(ctx)
			if err != nil {
				return Verdict{}, err
			}
			body = &text
		}
		if strings.Contains(*body, r.text) {
			return Verdict{Detected: true, Kind: r.kind, MatchedText: r.text, Visible: true}, nil
		}
	}

	if !inputUsable {
		title, err := s.host.Title(ctx)
		if err != nil {
			return Verdict{}, fmt.Errorf("read title: %w", err)
		}
		lower := strings.ToLower(title)
		for _, kw := range titleKeywords {
			if strings.Contains(lower, kw) {
				return Verdict{Detected: true, Kind: KindTitle, MatchedText: title}, nil
			}
		}
	}
	return Verdict{}, nil
}

// Mitigate handles a verdict. Blocked pages are reloaded and reported unresolved.
// Challenges are polled until they disappear, the input becomes usable again or
// the ceiling passes. It reports whether the page is usable.
func (s *Sentinel) Mitigate(ctx context.Context, v Verdict) (bool, error) {
	if !v.Detected {
		return true, nil
	}
	log := s.logger.With(zap.String("kind", v.Kind), zap.String("matched", v.MatchedText))

	if v.Kind == KindBlocked {
		log.Warn("Service reports this client as blocked, reloading.")
		if err := s.host.Reload(ctx); err != nil {
			return false, fmt.Errorf("reload after block: %w", err)
		}
		return false, nil
	}

	log.Warn("Anti-automation challenge detected, waiting for it to clear.", zap.Duration("ceiling", s.ceiling))
	start := s.clock.Now()
	for s.clock.Now().Sub(start) < s.ceiling {
		if err := sleepAtMost(ctx, s.clock, s.interval, start, s.ceiling); err != nil {
			return false, err
		}
		current, err := s.Detect(ctx)
		if err != nil {
			return false, err
		}
		if !current.Detected {
			log.Info("Challenge cleared.", zap.Duration("after", s.clock.Now().Sub(start)))
			return true, nil
		}
		if _, ok, err := s.probe.FindInteractable(ctx, s.input); err != nil {
			return false, err
		} else if ok {
			log.Info("Input usable again, continuing.")
			return true, nil
		}
	}
	log.Warn("Challenge did not clear before the ceiling.")
	return false, nil
}

func (s *Sentinel) bodyText(ctx context.Context) (string, error) {
	nodes, err := s.host.QueryAll(ctx, "body")
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	if len(nodes) == 0 {
		return "", nil
	}
	return strings.ToLower(nodes[0].Text), nil
}
