package browser

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chatloom/internal/config"
)

func TestBuildScript(t *testing.T) {
	script, err := buildScript(jsQueryWithin, "n1", `div[data-x="1"]`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "(() => {"))
	assert.True(t, strings.HasSuffix(script, "})()"))
	assert.Contains(t, script, `const args = ["n1","div[data-x=\"1\"]"];`)
	assert.Contains(t, script, refAttr)

	empty, err := buildScript(jsReadyState)
	require.NoError(t, err)
	assert.Contains(t, empty, "const args = [];")
}

func TestBuildScriptRejectsUnencodable(t *testing.T) {
	_, err := buildScript(jsFocus, make(chan int))
	assert.Error(t, err)
}

func TestCombineContext(t *testing.T) {
	t.Run("secondary cancel propagates", func(t *testing.T) {
		type key struct{}
		primary := context.WithValue(context.Background(), key{}, "cdp")
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()
		assert.Equal(t, "cdp", combined.Value(key{}))

		cancelSecondary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not cancelled")
		}
	})

	t.Run("primary cancel propagates", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()
		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestManagerProfileDir(t *testing.T) {
	root := t.TempDir()
	m := NewManager(zaptest.NewLogger(t), config.BrowserConfig{ProfileDir: root})
	dir, err := m.ProfileDir("claude")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "claude"), dir)
}

func TestBuildAllocatorOptions(t *testing.T) {
	base := NewManager(nil, config.BrowserConfig{Headless: true})
	withExtras := NewManager(nil, config.BrowserConfig{
		Headless:     false,
		ExecPath:     "/opt/chrome",
		WindowWidth:  1280,
		WindowHeight: 800,
		Args:         []string{"--lang=de", "mute-audio"},
	})

	baseOpts := base.buildAllocatorOptions("/tmp/p")
	extraOpts := withExtras.buildAllocatorOptions("/tmp/p")
	// headless adds disable-gpu; the other adds exec path, window size and two args.
	assert.Equal(t, len(baseOpts)-1+4, len(extraOpts))
}

func TestManagerShutdownIsIdempotent(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), config.BrowserConfig{})
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Open(context.Background(), config.ServiceDescriptor{ID: "x"})
	assert.ErrorContains(t, err, "shut down")
}
