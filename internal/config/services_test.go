// File: internal/config/services_test.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestDefaultServicesAreValid(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range DefaultServices() {
		assert.NoError(t, s.Validate(), s.ID)
		assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
	}
	assert.True(t, seen["chatgpt"])
	assert.True(t, seen["claude"])
	assert.True(t, seen["gemini"])
	assert.True(t, seen["copilot"])
}

func TestSelectorSetContainers(t *testing.T) {
	s := SelectorSet{LatestResponse: []string{".last"}}
	assert.Equal(t, []string{".last"}, s.Containers())

	s.ResponseContainer = []string{".msg"}
	assert.Equal(t, []string{".msg"}, s.Containers())
}

func TestMergeServices(t *testing.T) {
	base := []ServiceDescriptor{
		{ID: "a", Name: "A", URL: "http://a", Selectors: SelectorSet{Input: []string{"#a"}, SendButton: []string{"#send"}}},
		{ID: "b", Name: "B", URL: "http://b", Selectors: SelectorSet{Input: []string{"#b"}}},
	}
	overrides := []ServiceDescriptor{
		{ID: "b", Disabled: true, Selectors: SelectorSet{Input: []string{"#b2", "#b"}}},
		{ID: "c", Name: "C", URL: "http://c"},
	}

	got := MergeServices(base, overrides)
	want := []ServiceDescriptor{
		base[0],
		{ID: "b", Name: "B", URL: "http://b", Disabled: true, Selectors: SelectorSet{Input: []string{"#b2", "#b"}}},
		{ID: "c", Name: "C", URL: "http://c"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeServices mismatch (-want +got):\n%s", diff)
	}

	// The base slice must not be modified.
	assert.Equal(t, []string{"#b"}, base[1].Selectors.Input)
	assert.False(t, base[1].Disabled)
}

func TestServiceDescriptorValidate(t *testing.T) {
	d := ServiceDescriptor{
		ID:               "x",
		URL:              "http://x",
		Selectors:        SelectorSet{Input: []string{"#in"}, LatestResponse: []string{".out"}},
		LoginURLPatterns: []string{"("},
	}
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login_url_patterns")

	d.LoginURLPatterns = []string{`/login`}
	assert.NoError(t, d.Validate())
}

const selectorsYAML = `
services:
  - id: claude
    selectors:
      input: ["#new-claude-input"]
`

func TestLoadServicesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(selectorsYAML), 0o600))

	services, err := LoadServicesFile(path)
	require.NoError(t, err)

	claude, ok := FindService(services, "claude")
	require.True(t, ok)
	assert.Equal(t, []string{"#new-claude-input"}, claude.Selectors.Input)

	_, err = LoadServicesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchServices(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(selectorsYAML), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := WatchServices(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)

	// An invalid edit is skipped, the next valid one is delivered.
	require.NoError(t, os.WriteFile(path, []byte("services: ["), 0o600))
	time.Sleep(2 * watchDebounce)
	updated := `
services:
  - id: claude
    selectors:
      input: ["#edited"]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case services := <-updates:
		claude, ok := FindService(services, "claude")
		require.True(t, ok)
		assert.Equal(t, []string{"#edited"}, claude.Selectors.Input)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for selectors reload")
	}

	cancel()
	for range updates {
	}
}
