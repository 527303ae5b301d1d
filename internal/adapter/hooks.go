// File: internal/adapter/hooks.go
package adapter

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/xkilldash9x/chatloom/internal/host"
)

// Hooks customize the generic adapter for a service whose markup the selector
// table cannot fully describe. Every field is optional.
type Hooks struct {
	// IsStreaming reports a streaming state in addition to the loading and stop selectors.
	IsStreaming func(ctx context.Context, h host.Host) (bool, error)
	// IsUserMessage decides authorship for a response container. When handled is
	// false the UserMessage markers decide.
	IsUserMessage func(ctx context.Context, h host.Host, n host.Node) (isUser, handled bool, err error)
	// Clean post-processes the extracted reply.
	Clean func(text string) string
}

var (
	hooksMu    sync.RWMutex
	registered = map[string]Hooks{}
)

// RegisterHooks installs hooks for a service ID, replacing any built-in ones.
func RegisterHooks(serviceID string, h Hooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	registered[serviceID] = h
}

// HooksFor returns the hooks registered for a service ID, falling back to the built-ins.
func HooksFor(serviceID string) Hooks {
	hooksMu.RLock()
	h, ok := registered[serviceID]
	hooksMu.RUnlock()
	if ok {
		return h
	}
	return builtinHooks[serviceID]
}

var builtinHooks = map[string]Hooks{
	"claude": {
		IsStreaming: anyVisibleHook(".font-claude-message .animate-pulse", "[data-is-streaming='true'] .animate-pulse"),
		Clean:       stripLines(regexp.MustCompile(`^(Edit|Copy|Retry|Share)$`)),
	},
	"gemini": {
		IsStreaming: anyVisibleHook("model-response:last-of-type [aria-busy='true']", "model-response:last-of-type .pending-request"),
		IsUserMessage: func(ctx context.Context, h host.Host, n host.Node) (bool, bool, error) {
			switch strings.ToLower(n.Tag) {
			case "user-query":
				return true, true, nil
			case "model-response":
				return false, true, nil
			}
			return false, false, nil
		},
		Clean: stripLines(regexp.MustCompile(`^(Show (thinking|drafts)|Gemini said)$`)),
	},
}

func anyVisibleHook(selectors ...string) func(ctx context.Context, h host.Host) (bool, error) {
	return func(ctx context.Context, h host.Host) (bool, error) {
		for _, sel := range selectors {
			nodes, err := h.QueryAll(ctx, sel)
			if err != nil {
				return false, err
			}
			for _, n := range nodes {
				if n.Visible() {
					return true, nil
				}
			}
		}
		return false, nil
	}
}

func stripLines(re *regexp.Regexp) func(string) string {
	return func(text string) string {
		lines := strings.Split(text, "\n")
		kept := lines[:0]
		for _, l := range lines {
			if re.MatchString(strings.TrimSpace(l)) {
				continue
			}
			kept = append(kept, l)
		}
		return strings.TrimSpace(strings.Join(kept, "\n"))
	}
}
