package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
)

const integrationPage = `<!doctype html>
<html><head><title>Integration Chat</title></head>
<body>
<div id="log"></div>
<textarea id="box"></textarea>
<div id="rich" contenteditable="true"></div>
<button id="send" onclick="document.getElementById('log').insertAdjacentHTML('beforeend', '<p class=msg>' + document.getElementById('box').value + '</p>')">Send</button>
<button id="off" disabled>Off</button>
<p id="hidden" style="display:none">secret</p>
</body></html>`

func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func TestPageIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	chrome := findChrome(t)
	if chrome == "" {
		t.Skip("no Chrome binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, integrationPage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	m := NewManager(zaptest.NewLogger(t), config.BrowserConfig{
		Headless:          true,
		ExecPath:          chrome,
		ProfileDir:        t.TempDir(),
		Stealth:           true,
		NavigationTimeout: 30 * time.Second,
		ClickHoldMinMs:    10,
		ClickHoldMaxMs:    20,
	})
	defer func() { _ = m.Shutdown(context.Background()) }()

	page, err := m.Open(ctx, config.ServiceDescriptor{ID: "local", URL: srv.URL})
	require.NoError(t, err)

	again, err := m.Open(ctx, config.ServiceDescriptor{ID: "local", URL: srv.URL})
	require.NoError(t, err)
	assert.Same(t, page, again)

	title, err := page.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Integration Chat", title)

	state, err := page.ReadyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "complete", state)

	nodes, err := page.QueryAll(ctx, "button")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.True(t, nodes[0].Interactable())
	assert.True(t, nodes[1].Disabled)

	hidden, err := page.QueryAll(ctx, "#hidden")
	require.NoError(t, err)
	require.Len(t, hidden, 1)
	assert.False(t, hidden[0].Visible())

	invalid, err := page.QueryAll(ctx, "div[[")
	require.NoError(t, err)
	assert.Empty(t, invalid)

	box, err := page.QueryAll(ctx, "#box")
	require.NoError(t, err)
	require.Len(t, box, 1)
	ref := box[0].Ref
	require.NoError(t, page.Focus(ctx, ref))
	require.NoError(t, page.SetProperty(ctx, ref, host.PropValue, "hello"))
	require.NoError(t, page.DispatchEvent(ctx, ref, host.Event{Type: "input", Bubbles: true}))
	require.NoError(t, page.SetSelectionRange(ctx, ref, 5, 5))

	again2, err := page.QueryAll(ctx, "#box")
	require.NoError(t, err)
	assert.Equal(t, ref, again2[0].Ref, "refs are stable across queries")
	assert.Equal(t, "hello", again2[0].Value)

	rich, err := page.QueryAll(ctx, "#rich")
	require.NoError(t, err)
	assert.True(t, rich[0].Editable)
	require.NoError(t, page.SetProperty(ctx, rich[0].Ref, host.PropTextContent, "rich text"))
	require.NoError(t, page.CollapseCaretToEnd(ctx, rich[0].Ref))
	assert.ErrorIs(t, page.SetSelectionRange(ctx, rich[0].Ref, 0, 1), host.ErrUnsupported)

	require.NoError(t, page.Click(ctx, nodes[0].Ref))
	msgs, err := page.QueryAll(ctx, ".msg")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	inside, err := page.Closest(ctx, msgs[0].Ref, "#log")
	require.NoError(t, err)
	assert.True(t, inside)

	require.NoError(t, page.Reload(ctx))
	_, err = page.QueryWithin(ctx, ref, "*")
	assert.ErrorIs(t, err, host.ErrDetached)
	assert.ErrorIs(t, page.Focus(ctx, host.NodeRef("n999")), host.ErrDetached)

	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/", url)
}
