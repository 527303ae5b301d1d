// File: internal/adapter/errors.go
package adapter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                = errors.New("no interactable element found")
	ErrNoResponse              = errors.New("no response containers on page")
	ErrEmptyResponse           = errors.New("response is empty")
	ErrResponseStartTimeout    = errors.New("response did not start in time")
	ErrResponseCompleteTimeout = errors.New("response did not complete in time")
	ErrPageLoadTimeout         = errors.New("page did not finish loading in time")
	ErrPage                    = errors.New("page reported an error")
	ErrAntiAutomation          = errors.New("anti-automation challenge unresolved")
	ErrLoginRequired           = errors.New("login required")
	ErrStaleElement            = errors.New("element went stale")
	ErrBusy                    = errors.New("adapter is busy with another operation")
	ErrEmptyMessage            = errors.New("message is empty")
)

// NotFoundError is returned by the probe when no selector yields an interactable element.
type NotFoundError struct {
	Selectors []string
	Timeout   time.Duration
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no interactable element for [%s] within %s", strings.Join(e.Selectors, ", "), e.Timeout)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TimeoutError describes a bounded wait that expired.
type TimeoutError struct {
	Phase   string
	Timeout time.Duration
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v (waited %s of %s)", e.Phase, e.Err, e.Elapsed, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// PageError carries the text of an error banner shown by the service.
type PageError struct {
	Text string
}

func (e *PageError) Error() string { return "page error: " + e.Text }

func (e *PageError) Unwrap() error { return ErrPage }

// AntiAutomationError is returned when a challenge is detected and mitigation did not clear it.
type AntiAutomationError struct {
	Verdict Verdict
}

func (e *AntiAutomationError) Error() string {
	return fmt.Sprintf("anti-automation %s detected (%s)", e.Verdict.Kind, e.Verdict.MatchedText)
}

func (e *AntiAutomationError) Unwrap() error { return ErrAntiAutomation }

// LoginRequiredError is returned when the service shows its login flow instead of the chat.
type LoginRequiredError struct {
	URL    string
	Reason string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("login required at %s: %s", e.URL, e.Reason)
}

func (e *LoginRequiredError) Unwrap() error { return ErrLoginRequired }

// StaleElementError is returned when a node vanished between probe and use.
type StaleElementError struct {
	Op  string
	Err error
}

func (e *StaleElementError) Error() string {
	return fmt.Sprintf("%s: element went stale: %v", e.Op, e.Err)
}

func (e *StaleElementError) Is(target error) bool { return target == ErrStaleElement }

func (e *StaleElementError) Unwrap() error { return e.Err }
