// File: internal/adapter/submit.go
package adapter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/host"
)

// SubmitMethod records how a message was submitted.
type SubmitMethod string

const (
	SubmitClick SubmitMethod = "click"
	SubmitEnter SubmitMethod = "enter"
)

// SubmissionController sends the composed message. It does not verify delivery,
// the completion detector observes the outcome.
type SubmissionController struct {
	host       host.Host
	probe      *Probe
	sendButton []string
	logger     *zap.Logger
}

func NewSubmissionController(h host.Host, probe *Probe, sendButton []string, logger *zap.Logger) *SubmissionController {
	return &SubmissionController{host: h, probe: probe, sendButton: sendButton, logger: logger.Named("submit")}
}

// Submit clicks the send button when it is interactable and otherwise presses
// Enter on the input.
func (s *SubmissionController) Submit(ctx context.Context, input host.Node) (SubmitMethod, error) {
	if len(s.sendButton) > 0 {
		m, ok, err := s.probe.FindInteractable(ctx, s.sendButton)
		if err != nil {
			return "", err
		}
		if ok {
			if err := s.host.Click(ctx, m.Node.Ref); err != nil {
				return "", fmt.Errorf("click send button %q: %w", m.Selector, err)
			}
			s.logger.Debug("Submitted via send button.", zap.String("selector", m.Selector))
			return SubmitClick, nil
		}
	}

	for _, typ := range []string{"keydown", "keyup"} {
		ev := host.Event{Type: typ, Bubbles: true, Key: "Enter", Code: "Enter", KeyCode: 13}
		if err := s.host.DispatchEvent(ctx, input.Ref, ev); err != nil {
			if isDetached(err) {
				return "", &StaleElementError{Op: "submit", Err: err}
			}
			return "", fmt.Errorf("dispatch %s: %w", typ, err)
		}
	}
	s.logger.Debug("Submitted via Enter key.")
	return SubmitEnter, nil
}
