// File: internal/adapter/input.go
package adapter

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf16"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/host"
)

// InputController writes text into the service's input element in one step.
// Frameworks such as React only notice the change through the input and change
// events, so both are always dispatched.
type InputController struct {
	host   host.Host
	logger *zap.Logger
}

func NewInputController(h host.Host, logger *zap.Logger) *InputController {
	return &InputController{host: h, logger: logger.Named("input")}
}

// Clear empties the input.
func (c *InputController) Clear(ctx context.Context, node host.Node) error {
	return c.write(ctx, "clear", node, "")
}

// Inject replaces the input's content with text and moves the caret to the end.
func (c *InputController) Inject(ctx context.Context, node host.Node, text string) error {
	return c.write(ctx, "inject", node, text)
}

func (c *InputController) write(ctx context.Context, op string, node host.Node, text string) (err error) {
	defer func() {
		if err != nil && isDetached(err) {
			err = &StaleElementError{Op: op, Err: err}
		}
	}()

	if err := c.host.Focus(ctx, node.Ref); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}

	prop := host.PropValue
	if node.Editable && !node.IsTextControl() {
		prop = host.PropTextContent
	}
	if err := c.host.SetProperty(ctx, node.Ref, prop, text); err != nil {
		return fmt.Errorf("set %s: %w", prop, err)
	}

	for _, typ := range []string{"input", "change"} {
		if err := c.host.DispatchEvent(ctx, node.Ref, host.Event{Type: typ, Bubbles: true}); err != nil {
			return fmt.Errorf("dispatch %s: %w", typ, err)
		}
	}

	if prop == host.PropTextContent {
		if err := c.host.CollapseCaretToEnd(ctx, node.Ref); err != nil {
			return fmt.Errorf("move caret: %w", err)
		}
		return nil
	}

	end := len(utf16.Encode([]rune(text)))
	if err := c.host.SetSelectionRange(ctx, node.Ref, end, end); err != nil {
		if errors.Is(err, host.ErrUnsupported) {
			c.logger.Debug("Selection range not supported by input.", zap.String("tag", node.Tag))
			return nil
		}
		return fmt.Errorf("set selection: %w", err)
	}
	return nil
}
