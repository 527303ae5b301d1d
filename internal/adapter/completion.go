// File: internal/adapter/completion.go
package adapter

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
)

// Phase is the state of a reply as observed by the completion detector.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseStreaming
	PhaseComplete
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseStreaming:
		return "streaming"
	case PhaseComplete:
		return "complete"
	case PhaseTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Baseline is the state of the transcript captured right before a message is sent.
// Errors and ErrorText describe the error banners already on screen, which do not
// count as a failure of the next reply.
type Baseline struct {
	Count     int
	LastText  string
	Errors    int
	ErrorText string
}

// CompletionDetector decides when a streamed reply has started and when it is finished.
type CompletionDetector struct {
	host      host.Host
	probe     *Probe
	extractor *ResponseExtractor
	selectors config.SelectorSet
	hooks     Hooks
	timings   config.AdapterConfig
	clock     Clock
	logger    *zap.Logger
}

func NewCompletionDetector(
	h host.Host,
	probe *Probe,
	extractor *ResponseExtractor,
	selectors config.SelectorSet,
	hooks Hooks,
	timings config.AdapterConfig,
	clock Clock,
	logger *zap.Logger,
) *CompletionDetector {
	return &CompletionDetector{
		host:      h,
		probe:     probe,
		extractor: extractor,
		selectors: selectors,
		hooks:     hooks,
		timings:   timings,
		clock:     clock,
		logger:    logger.Named("completion"),
	}
}

// Capture records the current transcript as a baseline.
func (d *CompletionDetector) Capture(ctx context.Context) (Baseline, error) {
	containers, err := d.extractor.Containers(ctx)
	if err != nil {
		return Baseline{}, err
	}
	b := Baseline{Count: len(containers)}
	if len(containers) > 0 {
		b.LastText = strings.TrimSpace(containers[len(containers)-1].Text)
	}
	banners, err := d.visibleErrors(ctx)
	if err != nil {
		return Baseline{}, err
	}
	b.Errors = len(banners)
	if len(banners) > 0 {
		b.ErrorText = banners[len(banners)-1].Text
	}
	return b, nil
}

// Run waits for the reply that follows baseline to start and then to stop changing.
// The start wait is bounded by min(StartTimeout, timeout), the whole run by timeout.
func (d *CompletionDetector) Run(ctx context.Context, baseline Baseline, timeout time.Duration) (Phase, error) {
	start := d.clock.Now()
	startWait := timeout
	if d.timings.StartTimeout > 0 && d.timings.StartTimeout < startWait {
		startWait = d.timings.StartTimeout
	}

	for {
		if err := d.pageError(ctx, baseline); err != nil {
			return PhaseNotStarted, err
		}
		started, err := d.started(ctx, baseline)
		if err != nil {
			return PhaseNotStarted, err
		}
		if started {
			break
		}
		elapsed := d.clock.Now().Sub(start)
		if elapsed >= startWait {
			return PhaseTimedOut, &TimeoutError{Phase: "response start", Timeout: startWait, Elapsed: elapsed, Err: ErrResponseStartTimeout}
		}
		if err := sleepAtMost(ctx, d.clock, d.timings.PollInterval, start, startWait); err != nil {
			return PhaseNotStarted, err
		}
	}
	d.logger.Debug("Response started.", zap.Duration("after", d.clock.Now().Sub(start)))

	lastLength, stable := 0, 0
	for {
		if err := d.pageError(ctx, baseline); err != nil {
			return PhaseStreaming, err
		}

		streaming, err := d.streaming(ctx)
		if err != nil {
			return PhaseStreaming, err
		}
		if !streaming {
			length := 0
			if text, err := d.Reply(ctx, baseline); err == nil {
				length = utf8.RuneCountInString(text)
			} else if ctx.Err() != nil {
				return PhaseStreaming, ctx.Err()
			}

			if length == lastLength && length > 0 {
				stable++
			} else {
				stable = 0
				lastLength = length
			}
			if stable >= d.timings.StableSamples {
				d.logger.Debug("Response complete.", zap.Int("length", length), zap.Duration("after", d.clock.Now().Sub(start)))
				return PhaseComplete, nil
			}
		}

		elapsed := d.clock.Now().Sub(start)
		if elapsed >= timeout {
			return PhaseTimedOut, &TimeoutError{Phase: "response completion", Timeout: timeout, Elapsed: elapsed, Err: ErrResponseCompleteTimeout}
		}
		if err := sleepAtMost(ctx, d.clock, d.timings.PollInterval, start, timeout); err != nil {
			return PhaseStreaming, err
		}
	}
}

// Reply extracts the reply that follows baseline. Containers already present at
// capture time and user-authored containers are never returned. It fails with
// ErrNoResponse while no assistant container has appeared.
func (d *CompletionDetector) Reply(ctx context.Context, baseline Baseline) (string, error) {
	containers, err := d.extractor.Containers(ctx)
	if err != nil {
		return "", err
	}
	from := replyFrom(containers, baseline)
	if from < 0 {
		return "", ErrNoResponse
	}
	return d.extractor.ExtractFrom(ctx, containers, from)
}

// replyFrom returns the first container index that may hold the reply to baseline,
// or -1 when the transcript has not changed. A last container whose text changed in
// place counts as new.
func replyFrom(containers []host.Node, b Baseline) int {
	switch {
	case len(containers) > b.Count:
		return b.Count
	case len(containers) == b.Count && b.Count > 0 && strings.TrimSpace(containers[b.Count-1].Text) != b.LastText:
		return b.Count - 1
	}
	return -1
}

// started reports whether the reply has started relative to baseline: an assistant
// container appeared after it, or a streaming indicator is visible.
func (d *CompletionDetector) started(ctx context.Context, baseline Baseline) (bool, error) {
	ok, err := d.newAssistantContainer(ctx, baseline)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.logger.Debug("Transcript check failed while waiting for start.", zap.Error(err))
	} else if ok {
		return true, nil
	}
	return d.streaming(ctx)
}

func (d *CompletionDetector) newAssistantContainer(ctx context.Context, baseline Baseline) (bool, error) {
	containers, err := d.extractor.Containers(ctx)
	if err != nil {
		return false, err
	}
	from := replyFrom(containers, baseline)
	if from < 0 {
		return false, nil
	}
	for _, c := range containers[from:] {
		isUser, err := d.extractor.IsUserAuthored(ctx, c)
		if err != nil {
			return false, err
		}
		if !isUser {
			return true, nil
		}
	}
	return false, nil
}

// pageError returns a *PageError when an error banner not present in baseline is visible.
func (d *CompletionDetector) pageError(ctx context.Context, baseline Baseline) error {
	banners, err := d.visibleErrors(ctx)
	if err != nil || len(banners) == 0 {
		return err
	}
	last := banners[len(banners)-1]
	if len(banners) > baseline.Errors || last.Text != baseline.ErrorText {
		return &PageError{Text: last.Text}
	}
	return nil
}

// visibleErrors returns the visible error banners in selector order, then document order.
func (d *CompletionDetector) visibleErrors(ctx context.Context) ([]host.Node, error) {
	var banners []host.Node
	for _, sel := range d.selectors.ErrorMessage {
		nodes, err := d.host.QueryAll(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, n := range nodes {
			if n.Visible() {
				banners = append(banners, n)
			}
		}
	}
	return banners, nil
}

// streaming reports whether a loading or stop control is visible, or the hook says so.
func (d *CompletionDetector) streaming(ctx context.Context) (bool, error) {
	visible, err := d.probe.AnyVisible(ctx, append(append([]string(nil), d.selectors.LoadingIndicator...), d.selectors.StopButton...))
	if err != nil || visible {
		return visible, err
	}
	if d.hooks.IsStreaming != nil {
		ok, err := d.hooks.IsStreaming(ctx, d.host)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.logger.Debug("Streaming hook failed.", zap.Error(err))
			return false, nil
		}
		return ok, nil
	}
	return false, nil
}
