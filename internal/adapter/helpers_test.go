package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chatloom/internal/browser/fakepage"
	"github.com/xkilldash9x/chatloom/internal/config"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu      sync.Mutex
	start   time.Time
	now     time.Time
	sleeps  int
	onSleep func(tick int, elapsed time.Duration)
}

func newFakeClock() *fakeClock {
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return &fakeClock{start: t0, now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	tick, elapsed, fn := c.sleeps, c.now.Sub(c.start), c.onSleep
	c.mu.Unlock()
	if fn != nil {
		fn(tick, elapsed)
	}
	return nil
}

func (c *fakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

func (c *fakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// OnSleep replaces the hook and resets the tick counter so ticks count from the call.
func (c *fakeClock) OnSleep(fn func(tick int, elapsed time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = 0
	c.start = c.now
	c.onSleep = fn
}

func testTimings() config.AdapterConfig {
	return config.AdapterConfig{
		ProbeInterval:    250 * time.Millisecond,
		ProbeTimeout:     2 * time.Second,
		SettleDelay:      100 * time.Millisecond,
		PollInterval:     time.Second,
		StableSamples:    3,
		StartTimeout:     20 * time.Second,
		ResponseTimeout:  90 * time.Second,
		SentinelCeiling:  30 * time.Second,
		SentinelInterval: time.Second,
		NewChatSettle:    500 * time.Millisecond,
		LoadTimeout:      5 * time.Second,
	}
}

func testDescriptor() config.ServiceDescriptor {
	return config.ServiceDescriptor{
		ID:   "local",
		Name: "Local",
		URL:  "https://chat.example/",
		Selectors: config.SelectorSet{
			Input:             []string{"#box"},
			SendButton:        []string{"#send"},
			ResponseContainer: []string{".msg"},
			LoadingIndicator:  []string{".spinner"},
			StopButton:        []string{"#stop"},
			NewChatButton:     []string{"#new"},
			ErrorMessage:      []string{".error"},
			LoginButton:       []string{".login"},
			ConversationItem:  []string{".conv"},
			UserMessage:       []string{".user"},
			Content:           []string{".markdown"},
		},
		LoginURLPatterns: []string{`/login`},
	}
}

const chatPage = `
<title>Local Chat</title>
<nav><a class="conv">First chat</a><a class="conv">Second chat</a></nav>
<main id="log"></main>
<textarea id="box"></textarea>
<button id="send">Send</button>
<button id="new">New chat</button>`

type harness struct {
	page    *fakepage.Page
	clock   *fakeClock
	adapter *Adapter
}

func newHarness(t *testing.T, markup string) *harness {
	t.Helper()
	page := fakepage.New(markup)
	page.SetURL("https://chat.example/")
	clock := newFakeClock()
	a := New(page, testDescriptor(), Options{
		Logger:  zaptest.NewLogger(t),
		Clock:   clock,
		Timings: testTimings(),
		Hooks:   &Hooks{},
	})
	return &harness{page: page, clock: clock, adapter: a}
}

func (h *harness) parts() *components { return h.adapter.snapshot() }
