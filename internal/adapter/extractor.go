// File: internal/adapter/extractor.go
package adapter

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/config"
	"github.com/xkilldash9x/chatloom/internal/host"
)

// commonChromePhrases are UI labels that leak into innerText on most chat sites.
var commonChromePhrases = []string{
	"Copy",
	"Copy code",
	"Regenerate",
	"Regenerate response",
	"Good response",
	"Bad response",
	"Share",
	"Read aloud",
}

// ResponseExtractor reads the assistant's latest reply out of the page.
type ResponseExtractor struct {
	host      host.Host
	selectors config.SelectorSet
	hooks     Hooks
	phrases   map[string]struct{}
	logger    *zap.Logger
}

func NewResponseExtractor(h host.Host, selectors config.SelectorSet, hooks Hooks, extraPhrases []string, logger *zap.Logger) *ResponseExtractor {
	phrases := make(map[string]struct{}, len(commonChromePhrases)+len(extraPhrases))
	for _, p := range append(append([]string(nil), commonChromePhrases...), extraPhrases...) {
		if p = strings.TrimSpace(p); p != "" {
			phrases[strings.ToLower(p)] = struct{}{}
		}
	}
	return &ResponseExtractor{
		host:      h,
		selectors: selectors,
		hooks:     hooks,
		phrases:   phrases,
		logger:    logger.Named("extractor"),
	}
}

// Containers returns the message containers for the first container selector that matches.
func (e *ResponseExtractor) Containers(ctx context.Context) ([]host.Node, error) {
	var lastErr error
	for _, sel := range e.selectors.Containers() {
		nodes, err := e.host.QueryAll(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if len(nodes) > 0 {
			return nodes, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("query response containers: %w", lastErr)
	}
	return nil, nil
}

// Extract returns the text of the newest assistant-authored container. When every
// container looks user-authored it falls back to the last one.
func (e *ResponseExtractor) Extract(ctx context.Context) (string, error) {
	containers, err := e.Containers(ctx)
	if err != nil {
		return "", err
	}
	if len(containers) == 0 {
		return "", ErrNoResponse
	}

	target, ok, err := e.newestAssistant(ctx, containers, 0)
	if err != nil {
		return "", err
	}
	if !ok {
		target = containers[len(containers)-1]
	}
	return e.finish(ctx, target)
}

// ExtractFrom is Extract restricted to containers at index from or later, without
// the fallback. It fails with ErrNoResponse when no such assistant container exists.
func (e *ResponseExtractor) ExtractFrom(ctx context.Context, containers []host.Node, from int) (string, error) {
	target, ok, err := e.newestAssistant(ctx, containers, from)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoResponse
	}
	return e.finish(ctx, target)
}

// newestAssistant scans containers[from:] backwards for a non-empty container not
// authored by the user.
func (e *ResponseExtractor) newestAssistant(ctx context.Context, containers []host.Node, from int) (host.Node, bool, error) {
	if from < 0 {
		from = 0
	}
	for i := len(containers) - 1; i >= from; i-- {
		c := containers[i]
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		isUser, err := e.IsUserAuthored(ctx, c)
		if err != nil {
			return host.Node{}, false, err
		}
		if !isUser {
			return c, true, nil
		}
	}
	return host.Node{}, false, nil
}

func (e *ResponseExtractor) finish(ctx context.Context, target host.Node) (string, error) {
	text, err := e.ExtractNode(ctx, target)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ExtractNode returns the cleaned content text of a single container.
func (e *ResponseExtractor) ExtractNode(ctx context.Context, n host.Node) (string, error) {
	text := ""
	for _, sel := range e.selectors.Content {
		parts, err := e.host.QueryWithin(ctx, n.Ref, sel)
		if err != nil {
			if isDetached(err) {
				return "", &StaleElementError{Op: "extract", Err: err}
			}
			return "", fmt.Errorf("query content %q: %w", sel, err)
		}
		text, err = e.joinOutermost(ctx, parts, sel)
		if err != nil {
			return "", err
		}
		if text != "" {
			break
		}
	}
	if text == "" {
		text = n.Text
	}
	return e.stripChrome(text), nil
}

// IsUserAuthored reports whether a container holds a user message. The container
// counts as user-authored when it, an ancestor or a descendant matches a user marker.
func (e *ResponseExtractor) IsUserAuthored(ctx context.Context, n host.Node) (bool, error) {
	if e.hooks.IsUserMessage != nil {
		isUser, handled, err := e.hooks.IsUserMessage(ctx, e.host, n)
		if err != nil {
			return false, err
		}
		if handled {
			return isUser, nil
		}
	}
	for _, marker := range e.selectors.UserMessage {
		ok, err := e.host.Closest(ctx, n.Ref, marker)
		if err != nil {
			return false, wrapDetached("authorship", err)
		}
		if ok {
			return true, nil
		}
		inner, err := e.host.QueryWithin(ctx, n.Ref, marker)
		if err != nil {
			return false, wrapDetached("authorship", err)
		}
		if len(inner) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (e *ResponseExtractor) stripChrome(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t ")
		if _, ok := e.phrases[strings.ToLower(strings.TrimSpace(l))]; ok {
			continue
		}
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// joinOutermost joins the trimmed texts of nodes. A node nested inside an earlier
// match of the same selector is already part of that match's text and is skipped.
func (e *ResponseExtractor) joinOutermost(ctx context.Context, nodes []host.Node, sel string) (string, error) {
	nested := make(map[host.NodeRef]struct{})
	texts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := nested[n.Ref]; ok {
			continue
		}
		inner, err := e.host.QueryWithin(ctx, n.Ref, sel)
		if err != nil {
			return "", wrapDetached("extract", err)
		}
		for _, c := range inner {
			nested[c.Ref] = struct{}{}
		}
		if t := strings.TrimSpace(n.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func wrapDetached(op string, err error) error {
	if isDetached(err) {
		return &StaleElementError{Op: op, Err: err}
	}
	return err
}
