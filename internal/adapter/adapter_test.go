package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/chatloom/internal/browser/fakepage"
	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
)

// replyOnSend makes the page answer every submitted message with reply, streamed in
// two steps behind a spinner.
func replyOnSend(h *harness, reply string) {
	h.page.OnClick("#send", func(p *fakepage.Page) {
		question := p.ValueOf("#box")
		p.Append("#log", `<div class="msg user">`+question+`</div>`)
		p.Append("#log", `<div class="msg streaming">`+reply[:len(reply)/2]+`</div><div class="spinner"></div>`)
		h.clock.OnSleep(func(tick int, _ time.Duration) {
			if tick == 2 {
				p.SetText(".msg.streaming", reply)
				p.Remove(".spinner")
			}
		})
	})
}

func TestEndToEndAsk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)
	replyOnSend(h, "Hello")

	require.NoError(t, h.adapter.Initialize(ctx))
	st := h.adapter.State()
	assert.Equal(t, StatusReady, st.Status)
	assert.True(t, st.Initialized)
	assert.True(t, st.Ready)
	assert.Equal(t, "#box", st.InputSelector)

	require.NoError(t, h.adapter.SendMessage(ctx, "Hi"))
	assert.Equal(t, "Hi", h.page.ValueOf("#box"))

	reply, err := h.adapter.GetResponse(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)
	assert.Equal(t, StatusReady, h.adapter.State().Status)
}

// echoThenReply makes the page echo every submitted message right away and append
// reply, with no loading indicator, once the clock has ticked n times.
func echoThenReply(h *harness, reply string, n int) {
	h.page.OnClick("#send", func(p *fakepage.Page) {
		p.Append("#log", `<div class="msg user">`+p.ValueOf("#box")+`</div>`)
		h.clock.OnSleep(func(tick int, _ time.Duration) {
			if tick == n {
				p.Append("#log", `<div class="msg">`+reply+`</div>`)
			}
		})
	})
}

func TestAskReturnsOnlyTheNewReply(t *testing.T) {
	ctx := context.Background()

	t.Run("previous reply on screen", func(t *testing.T) {
		h := newHarness(t, strings.Replace(chatPage, `<main id="log"></main>`,
			`<main id="log"><div class="msg user">q1</div><div class="msg">Old answer</div></main>`, 1))
		echoThenReply(h, "New answer", 6)

		reply, err := h.adapter.Ask(ctx, "q2", 90*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "New answer", reply)
	})

	t.Run("first turn", func(t *testing.T) {
		h := newHarness(t, chatPage)
		echoThenReply(h, "4", 6)

		reply, err := h.adapter.Ask(ctx, "what is 2+2", 90*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "4", reply)
	})
}

func TestAskInitializesLazily(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)
	replyOnSend(h, "Hello there")

	reply, err := h.adapter.Ask(ctx, "Hi", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)
	assert.True(t, h.adapter.State().Initialized)
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	h := newHarness(t, chatPage)
	err := h.adapter.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendMessageUsesCachedSelector(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, `<main id="log"></main>
<textarea id="primary" style="display:none"></textarea>
<textarea id="secondary"></textarea>`)
	desc := testDescriptor()
	desc.Selectors.Input = []string{"#primary", "#secondary"}
	desc.Selectors.SendButton = nil
	h.adapter.UpdateDescriptor(desc)

	require.NoError(t, h.adapter.Initialize(ctx))
	assert.Equal(t, "#secondary", h.adapter.State().InputSelector)

	// Both variants are usable now, the cached one still wins.
	h.page.RemoveAttr("#primary", "style")
	require.NoError(t, h.adapter.SendMessage(ctx, "cached"))
	assert.Equal(t, "cached", h.page.ValueOf("#secondary"))
	assert.Equal(t, "", h.page.ValueOf("#primary"))

	// Without a send button the message goes out through Enter.
	var keys []string
	for _, c := range h.page.CallsOf("event") {
		if c.Event.Key == "Enter" {
			keys = append(keys, c.Event.Type)
		}
	}
	assert.Equal(t, []string{"keydown", "keyup"}, keys)
}

func TestSendMessageRetriesOnceOnStaleInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)
	require.NoError(t, h.adapter.Initialize(ctx))

	rerendered := false
	h.page.OnEvent(func(p *fakepage.Page, ev host.Event) {
		if ev.Type == "input" && !rerendered {
			rerendered = true
			p.SetHTML(chatPage)
		}
	})

	require.NoError(t, h.adapter.SendMessage(ctx, "survives"))
	assert.True(t, rerendered)
	assert.Equal(t, "survives", h.page.ValueOf("#box"))
	assert.Len(t, h.page.CallsOf("click"), 1)
}

func TestSendMessageReinitializesWhenPageMoved(t *testing.T) {
	ctx := context.Background()

	t.Run("login route", func(t *testing.T) {
		h := newHarness(t, chatPage)
		require.NoError(t, h.adapter.Initialize(ctx))

		h.page.SetURL("https://chat.example/login")
		h.page.SetHTML(`<a class="login">Log in</a>`)
		err := h.adapter.SendMessage(ctx, "hello")

		var lr *LoginRequiredError
		require.True(t, errors.As(err, &lr))
		assert.Equal(t, "https://chat.example/login", lr.URL)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Equal(t, StatusFailed, h.adapter.State().Status)
		assert.Empty(t, h.page.CallsOf("click"))
	})

	t.Run("challenge", func(t *testing.T) {
		h := newHarness(t, chatPage)
		require.NoError(t, h.adapter.Initialize(ctx))

		h.page.SetHTML(`<div id="challenge-stage">Checking</div>`)
		err := h.adapter.SendMessage(ctx, "hello")
		assert.ErrorIs(t, err, ErrAntiAutomation)
		assert.False(t, h.adapter.State().Ready)
	})

	t.Run("usable page skips initialization", func(t *testing.T) {
		h := newHarness(t, chatPage)
		require.NoError(t, h.adapter.Initialize(ctx))

		// A page load wait would time out if initialization ran again.
		h.page.SetReadyState("loading")
		require.NoError(t, h.adapter.SendMessage(ctx, "hello"))
		assert.Equal(t, "hello", h.page.ValueOf("#box"))
	})
}

func TestInitializeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("page load timeout", func(t *testing.T) {
		h := newHarness(t, chatPage)
		h.page.SetReadyState("loading")
		err := h.adapter.Initialize(ctx)
		assert.ErrorIs(t, err, ErrPageLoadTimeout)
		assert.Equal(t, 5*time.Second, h.clock.Elapsed())
		assert.Equal(t, StatusFailed, h.adapter.State().Status)
	})

	t.Run("login url", func(t *testing.T) {
		h := newHarness(t, chatPage)
		h.page.SetURL("https://chat.example/login?next=/")
		err := h.adapter.Initialize(ctx)
		var lr *LoginRequiredError
		require.True(t, errors.As(err, &lr))
		assert.Equal(t, "https://chat.example/login?next=/", lr.URL)
		assert.ErrorIs(t, err, ErrLoginRequired)
	})

	t.Run("login button without input", func(t *testing.T) {
		h := newHarness(t, `<main id="log"></main><a class="login">Log in</a>`)
		err := h.adapter.Initialize(ctx)
		assert.ErrorIs(t, err, ErrLoginRequired)
		assert.Equal(t, StatusFailed, h.adapter.State().Status)
		assert.False(t, h.adapter.State().Ready)
	})

	t.Run("input never appears", func(t *testing.T) {
		h := newHarness(t, `<main id="log"></main>`)
		err := h.adapter.Initialize(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrLoginRequired)
		assert.Contains(t, h.adapter.State().LastError, "#box")
	})

	t.Run("unresolved challenge", func(t *testing.T) {
		h := newHarness(t, `<div id="challenge-stage">Checking</div>`)
		err := h.adapter.Initialize(ctx)
		var ae *AntiAutomationError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, KindChallenge, ae.Verdict.Kind)
	})

	t.Run("challenge that clears", func(t *testing.T) {
		h := newHarness(t, `<div id="challenge-stage">Checking</div>`)
		h.clock.OnSleep(func(tick int, _ time.Duration) {
			if tick == 3 {
				h.page.SetHTML(chatPage)
			}
		})
		require.NoError(t, h.adapter.Initialize(ctx))
		assert.True(t, h.adapter.State().Ready)
	})
}

func TestBusyRejectsConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)
	require.NoError(t, h.adapter.Initialize(ctx))

	h.adapter.busy.Store(true)
	assert.ErrorIs(t, h.adapter.SendMessage(ctx, "x"), ErrBusy)
	_, err := h.adapter.GetResponse(ctx, time.Second)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, h.adapter.ClearConversation(ctx), ErrBusy)
	assert.ErrorIs(t, h.adapter.Initialize(ctx), ErrBusy)
	assert.Empty(t, h.adapter.GetConversationHistory(ctx))

	h.adapter.busy.Store(false)
	assert.NoError(t, h.adapter.SendMessage(ctx, "x"))
}

func TestCheckReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)

	ready, err := h.adapter.CheckReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Empty(t, h.page.CallsOf("focus"), "CheckReady has no side effects")

	h.page.Append("body", `<button id="stop">Stop</button>`)
	ready, err = h.adapter.CheckReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)

	h.page.Remove("#stop")
	h.page.SetAttr("#send", "disabled", "")
	ready, err = h.adapter.CheckReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestClearConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("new chat control", func(t *testing.T) {
		h := newHarness(t, chatPage)
		require.NoError(t, h.adapter.Initialize(ctx))
		require.NoError(t, h.adapter.ClearConversation(ctx))

		clicks := h.page.CallsOf("click")
		require.Len(t, clicks, 1)
		assert.True(t, h.page.RefMatches(clicks[0].Ref, "#new"))
		assert.True(t, h.adapter.State().Ready)
		assert.Equal(t, 0, h.page.Reloads())
	})

	t.Run("reload fallback", func(t *testing.T) {
		h := newHarness(t, chatPage)
		h.page.Remove("#new")
		require.NoError(t, h.adapter.Initialize(ctx))
		require.NoError(t, h.adapter.ClearConversation(ctx))

		assert.Equal(t, 1, h.page.Reloads())
		st := h.adapter.State()
		assert.Equal(t, StatusUninitialized, st.Status)
		assert.False(t, st.Ready)
		assert.False(t, st.Initialized)
	})
}

func TestGetConversationHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, `<main id="log">
<div class="msg user">What is Go?</div>
<div class="msg"><div class="markdown">A programming language.</div><button>Copy</button></div>
<div class="msg user">Thanks</div>
<div class="msg"></div>
</main>`)

	got := h.adapter.GetConversationHistory(ctx)
	want := []ConversationTurn{
		{Role: RoleUser, Content: "What is Go?", Index: 0},
		{Role: RoleAssistant, Content: "A programming language.", Index: 1},
		{Role: RoleUser, Content: "Thanks", Index: 2},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(ConversationTurn{}, "Timestamp")); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	empty := newHarness(t, `<div></div>`)
	assert.NotNil(t, empty.adapter.GetConversationHistory(ctx))
	assert.Empty(t, empty.adapter.GetConversationHistory(ctx))
}

func TestListConversationsAndLoginStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)
	assert.Equal(t, []string{"First chat", "Second chat"}, h.adapter.ListConversations(ctx))

	st, err := h.adapter.CheckLoginStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.LoggedIn)
	assert.True(t, st.InputAvailable)

	h.page.SetHTML(`<a class="login">Log in</a>`)
	st, err = h.adapter.CheckLoginStatus(ctx)
	require.NoError(t, err)
	assert.False(t, st.LoggedIn)
	assert.True(t, st.LoginButtonVisible)
	assert.Equal(t, "login button visible and no chat input", st.Reason)
}

func TestUpdateDescriptorResetsCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, chatPage)
	require.NoError(t, h.adapter.Initialize(ctx))

	desc := testDescriptor()
	desc.Selectors.Input = []string{"textarea"}
	h.adapter.UpdateDescriptor(desc)

	st := h.adapter.State()
	assert.Empty(t, st.InputSelector)
	assert.False(t, st.Ready)
	assert.Equal(t, []string{"textarea"}, h.adapter.Service().Selectors.Input)

	require.NoError(t, h.adapter.SendMessage(ctx, "hello"))
	assert.Equal(t, "textarea", h.adapter.State().InputSelector)
}

func TestResetAndLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	page := fakepage.New(chatPage)
	a := New(page, testDescriptor(), Options{Logger: zap.New(core), Clock: newFakeClock(), Timings: testTimings()})

	require.NoError(t, a.Initialize(context.Background()))
	a.Reset()
	assert.Equal(t, State{Status: StatusUninitialized}, a.State())

	a.Log("warn", "custom event", map[string]any{"k": "v"})
	entries := logs.FilterMessage("custom event").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "v", ctx["k"])
	assert.Equal(t, "local", ctx["service"])
	assert.Equal(t, a.ID(), ctx["adapter_id"])
}

func TestNewAppliesDescriptorTimings(t *testing.T) {
	desc := testDescriptor()
	desc.Timings = config.AdapterConfig{StableSamples: 7}
	a := New(fakepage.New(chatPage), desc, Options{Timings: testTimings()})
	assert.Equal(t, 7, a.snapshot().timings.StableSamples)
	assert.Equal(t, time.Second, a.snapshot().timings.PollInterval)
}
