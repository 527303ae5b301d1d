// File: internal/adapter/history.go
package adapter

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message reconstructed from the page.
type ConversationTurn struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Index     int
}

// GetConversationHistory reconstructs the visible conversation. It is best-effort and
// returns an empty slice when the page cannot be read.
func (a *Adapter) GetConversationHistory(ctx context.Context) []ConversationTurn {
	turns := []ConversationTurn{}
	release, err := a.acquire(true)
	if err != nil {
		a.logger.Debug("History skipped.", zap.Error(err))
		return turns
	}
	defer release()

	parts := a.snapshot()
	containers, err := parts.extractor.Containers(ctx)
	if err != nil {
		a.logger.Debug("History unavailable.", zap.Error(err))
		return turns
	}

	now := a.clock.Now()
	for _, c := range containers {
		text, err := parts.extractor.ExtractNode(ctx, c)
		if err != nil {
			a.logger.Debug("History unavailable.", zap.Error(err))
			return []ConversationTurn{}
		}
		if text == "" {
			continue
		}
		isUser, err := parts.extractor.IsUserAuthored(ctx, c)
		if err != nil {
			a.logger.Debug("History unavailable.", zap.Error(err))
			return []ConversationTurn{}
		}
		role := RoleAssistant
		if isUser {
			role = RoleUser
		} else if parts.hooks.Clean != nil {
			text = parts.hooks.Clean(text)
		}
		turns = append(turns, ConversationTurn{Role: role, Content: text, Timestamp: now, Index: len(turns)})
	}
	return turns
}

// ListConversations returns the titles of the conversations listed in the sidebar.
// It is best-effort and returns nil when the page cannot be read.
func (a *Adapter) ListConversations(ctx context.Context) []string {
	parts := a.snapshot()
	var titles []string
	seen := make(map[string]bool)
	for _, sel := range parts.desc.Selectors.ConversationItem {
		nodes, err := a.host.QueryAll(ctx, sel)
		if err != nil {
			a.logger.Debug("Conversation list unavailable.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		for _, n := range nodes {
			t := strings.TrimSpace(n.Text)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			titles = append(titles, t)
		}
	}
	return titles
}

// LoginStatus summarizes whether the service needs a manual login.
type LoginStatus struct {
	LoggedIn           bool
	URL                string
	LoginButtonVisible bool
	InputAvailable     bool
	Verdict            Verdict
	Reason             string
}

// CheckLoginStatus inspects the page without changing the adapter state.
func (a *Adapter) CheckLoginStatus(ctx context.Context) (LoginStatus, error) {
	parts := a.snapshot()
	var st LoginStatus

	url, err := a.host.URL(ctx)
	if err != nil {
		return st, err
	}
	st.URL = url

	if st.Verdict, err = parts.sentinel.Detect(ctx); err != nil {
		return st, err
	}
	if st.LoginButtonVisible, err = parts.probe.AnyVisible(ctx, parts.desc.Selectors.LoginButton); err != nil {
		return st, err
	}
	if _, st.InputAvailable, err = parts.probe.FindInteractable(ctx, parts.desc.Selectors.Input); err != nil {
		return st, err
	}

	switch {
	case matchLogin(parts.loginRes, url) != nil:
		st.Reason = "login page"
	case st.LoginButtonVisible && !st.InputAvailable:
		st.Reason = "login button visible and no chat input"
	case st.Verdict.Detected:
		st.Reason = "anti-automation " + st.Verdict.Kind
	case !st.InputAvailable:
		st.Reason = "chat input not available"
	default:
		st.LoggedIn = true
	}
	return st, nil
}
