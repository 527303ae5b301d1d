// internal/browser/humanoid/humanoid.go
package humanoid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidGeometry is returned when a target has no usable box.
var ErrInvalidGeometry = errors.New("humanoid: invalid element geometry")

// Humanoid produces trusted pointer input that looks like a person clicking.
type Humanoid struct {
	// mu protects currentPos and rng.
	mu         sync.Mutex
	config     Config
	logger     *zap.Logger
	executor   Executor
	currentPos Vector2D
	rng        *rand.Rand
}

// New creates a Humanoid driving executor.
func New(config Config, logger *zap.Logger, executor Executor) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.normalize()
	rng := config.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Humanoid{
		config:   config,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rng,
	}
}

// Position returns the last pointer position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// Click moves to a point inside geo, presses, holds and releases the left button.
func (h *Humanoid) Click(ctx context.Context, geo *ElementGeometry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	center, valid := boxToCenter(geo)
	if !valid {
		return ErrInvalidGeometry
	}
	target := h.calculateTargetPoint(geo, center)

	if err := h.moveTo(ctx, target); err != nil {
		return fmt.Errorf("humanoid: move failed: %w", err)
	}

	press := MouseEventData{Type: MousePress, X: target.X, Y: target.Y, Button: ButtonLeft, Buttons: 1, ClickCount: 1}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return fmt.Errorf("humanoid: press failed: %w", err)
	}

	hold := h.holdDuration()
	if err := h.executor.Sleep(ctx, hold); err != nil {
		h.releaseMouse(target)
		return err
	}

	release := MouseEventData{Type: MouseRelease, X: target.X, Y: target.Y, Button: ButtonLeft, Buttons: 0, ClickCount: 1}
	if err := h.executor.DispatchMouseEvent(ctx, release); err != nil {
		return fmt.Errorf("humanoid: release failed: %w", err)
	}
	h.logger.Debug("Click dispatched.", zap.Float64("x", target.X), zap.Float64("y", target.Y), zap.Duration("hold", hold))
	return nil
}

// releaseMouse lifts the button after a cancelled hold so the page is not left with a pressed pointer.
func (h *Humanoid) releaseMouse(at Vector2D) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := MouseEventData{Type: MouseRelease, X: at.X, Y: at.Y, Button: ButtonLeft, Buttons: 0, ClickCount: 1}
	if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
		h.logger.Debug("Cleanup release failed.", zap.Error(err))
	}
}

// moveTo walks the pointer to target in eased, jittered steps. Assumes the lock is held.
func (h *Humanoid) moveTo(ctx context.Context, target Vector2D) error {
	start := h.currentPos
	steps := h.config.MoveSteps
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps+1)
		eased := t * t * (3 - 2*t)
		p := start.Lerp(target, eased)
		p.X += h.rng.NormFloat64() * h.config.Jitter
		p.Y += h.rng.NormFloat64() * h.config.Jitter
		if err := h.executor.DispatchMouseEvent(ctx, MouseEventData{Type: MouseMove, X: p.X, Y: p.Y, Button: ButtonNone}); err != nil {
			return err
		}
		h.currentPos = p
		if h.config.MoveStepMs > 0 {
			if err := h.executor.Sleep(ctx, time.Duration(h.config.MoveStepMs)*time.Millisecond); err != nil {
				return err
			}
		}
	}
	if err := h.executor.DispatchMouseEvent(ctx, MouseEventData{Type: MouseMove, X: target.X, Y: target.Y, Button: ButtonNone}); err != nil {
		return err
	}
	h.currentPos = target
	return nil
}

func (h *Humanoid) holdDuration() time.Duration {
	lo, hi := h.config.ClickHoldMinMs, h.config.ClickHoldMaxMs
	ms := lo
	if hi > lo {
		ms += h.rng.Intn(hi - lo + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

// calculateTargetPoint picks a normally distributed point near the center, clamped inside the box.
func (h *Humanoid) calculateTargetPoint(geo *ElementGeometry, center Vector2D) Vector2D {
	if geo.Width <= 2 || geo.Height <= 2 {
		return center
	}
	width, height := float64(geo.Width), float64(geo.Height)

	x := center.X + h.rng.NormFloat64()*width*0.9/6.0
	y := center.Y + h.rng.NormFloat64()*height*0.9/6.0

	minX, maxX := center.X-width/2.0+1.0, center.X+width/2.0-1.0
	minY, maxY := center.Y-height/2.0+1.0, center.Y+height/2.0-1.0
	return Vector2D{
		X: math.Max(minX, math.Min(maxX, x)),
		Y: math.Max(minY, math.Min(maxY, y)),
	}
}

// boxToCenter calculates the geometric center of an element's quad.
func boxToCenter(geo *ElementGeometry) (center Vector2D, valid bool) {
	if geo == nil || len(geo.Vertices) < 8 || geo.Width <= 0 || geo.Height <= 0 {
		return Vector2D{}, false
	}
	centerX := (geo.Vertices[0] + geo.Vertices[2] + geo.Vertices[4] + geo.Vertices[6]) / 4
	centerY := (geo.Vertices[1] + geo.Vertices[3] + geo.Vertices[5] + geo.Vertices[7]) / 4
	return Vector2D{X: centerX, Y: centerY}, true
}
