// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"time"
)

// MouseEventType mirrors the CDP Input.dispatchMouseEvent types.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton mirrors the CDP mouse button names.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData is one low-level pointer event.
type MouseEventData struct {
	Type       MouseEventType
	X          float64
	Y          float64
	Button     MouseButton
	Buttons    int64
	ClickCount int
}

// ElementGeometry is the border quad of an element in viewport coordinates.
type ElementGeometry struct {
	Vertices []float64 `json:"vertices"`
	Width    int64     `json:"width"`
	Height   int64     `json:"height"`
}

// Executor is the low-level surface the humanoid drives.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
}
