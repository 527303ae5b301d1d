// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/browser/fakepage"
	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
	"github.com/xkilldash9x/chatloom/internal/observability"
	"github.com/xkilldash9x/chatloom/internal/orchestrator"
)

const chatPage = `
<title>Local Chat</title>
<nav><a class="conv">First chat</a><a class="conv">Second chat</a></nav>
<main id="log"></main>
<textarea id="box"></textarea>
<button id="send">Send</button>
<button id="new">New chat</button>`

// fakeProvider serves a scripted fakepage per service. The page answers every
// prompt with "<id>: <prompt>".
type fakeProvider struct {
	mu        sync.Mutex
	pages     map[string]*fakepage.Page
	shutdowns int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pages: make(map[string]*fakepage.Page)}
}

func (f *fakeProvider) Host(ctx context.Context, desc config.ServiceDescriptor) (host.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if desc.ID == "broken" {
		return nil, errors.New("browser failed to start")
	}
	if p, ok := f.pages[desc.ID]; ok {
		return p, nil
	}
	p := fakepage.New(chatPage)
	p.SetURL(desc.URL)
	prefix := desc.ID + ": "
	p.OnClick("#send", func(p *fakepage.Page) {
		q := p.ValueOf("#box")
		p.Append("#log", `<div class="msg user">`+q+`</div><div class="msg">`+prefix+q+`</div>`)
	})
	p.OnClick("#new", func(p *fakepage.Page) {
		p.Remove(".msg")
	})
	f.pages[desc.ID] = p
	return p, nil
}

func (f *fakeProvider) ClosePage(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, id)
}

func (f *fakeProvider) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

const localServices = `
services:
  - id: local
    name: Local
    url: https://local.example/
    selectors:
      input: ["#box"]
      send_button: ["#send"]
      response_container: [".msg"]
      new_chat_button: ["#new"]
      conversation_item: [".conv"]
      user_message: [".user"]
  - id: second
    name: Second
    url: https://second.example/
    selectors:
      input: ["#box"]
      send_button: ["#send"]
      response_container: [".msg"]
      user_message: [".user"]
  - id: broken
    name: Broken
    url: https://broken.example/
    selectors:
      input: ["#box"]
      response_container: [".msg"]
`

const baseConfig = `
logger:
  level: error
  log_file: {{dir}}/chatloom.log
store:
  driver: sqlite
  path: {{dir}}/transcripts.db
browser:
  profile_dir: {{dir}}/profiles
adapter:
  probe_interval: 1ms
  probe_timeout: 100ms
  settle_delay: 1ms
  poll_interval: 2ms
  stable_samples: 2
  start_timeout: 500ms
  response_timeout: 2s
  sentinel_ceiling: 20ms
  sentinel_interval: 5ms
  new_chat_settle: 1ms
  load_timeout: 100ms
orchestrator:
  send_interval: 0s
  send_burst: 1
`

// testEnv is a temp directory holding a config file, with the browser host
// replaced by a fakeProvider.
type testEnv struct {
	dir      string
	config   string
	provider *fakeProvider
}

// newTestEnv writes a config file whose body is baseConfig plus extra.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	body := strings.ReplaceAll(baseConfig+extra, "{{dir}}", dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	provider := newFakeProvider()
	orig := newHostProvider
	newHostProvider = func(config.Interface, *zap.Logger) orchestrator.HostProvider { return provider }
	t.Cleanup(func() { newHostProvider = orig })

	return &testEnv{dir: dir, config: path, provider: provider}
}

// run executes the command tree with the env's config file.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return execute(t, stdin, append([]string{"--config", e.config}, args...)...)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
