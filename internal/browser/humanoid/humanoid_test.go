package humanoid

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockExecutor records every event and sleep.
type mockExecutor struct {
	mu       sync.Mutex
	events   []MouseEventData
	sleeps   []time.Duration
	failOn   MouseEventType
	sleepErr error
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, d)
	if m.sleepErr != nil {
		return m.sleepErr
	}
	return ctx.Err()
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, data)
	if data.Type == m.failOn {
		return errors.New("dispatch failed")
	}
	return nil
}

func (m *mockExecutor) ofType(t MouseEventType) []MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MouseEventData
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func box(x, y, w, h float64) *ElementGeometry {
	return &ElementGeometry{
		Vertices: []float64{x, y, x + w, y, x + w, y + h, x, y + h},
		Width:    int64(w),
		Height:   int64(h),
	}
}

func newTestHumanoid(t *testing.T, exec Executor, cfg Config) *Humanoid {
	cfg.Rng = rand.New(rand.NewSource(42))
	return New(cfg, zaptest.NewLogger(t), exec)
}

func TestClick_Sequence(t *testing.T) {
	exec := &mockExecutor{}
	cfg := DefaultConfig()
	cfg.ClickHoldMinMs, cfg.ClickHoldMaxMs = 60, 90
	h := newTestHumanoid(t, exec, cfg)

	require.NoError(t, h.Click(context.Background(), box(100, 100, 50, 50)))

	moves := exec.ofType(MouseMove)
	presses := exec.ofType(MousePress)
	releases := exec.ofType(MouseRelease)
	assert.Len(t, moves, cfg.MoveSteps+1)
	require.Len(t, presses, 1)
	require.Len(t, releases, 1)

	p := presses[0]
	assert.Equal(t, ButtonLeft, p.Button)
	assert.Equal(t, int64(1), p.Buttons)
	assert.Equal(t, int64(0), releases[0].Buttons)
	assert.Equal(t, p.X, releases[0].X)
	assert.GreaterOrEqual(t, p.X, 101.0)
	assert.LessOrEqual(t, p.X, 149.0)
	assert.GreaterOrEqual(t, p.Y, 101.0)
	assert.LessOrEqual(t, p.Y, 149.0)

	last := exec.sleeps[len(exec.sleeps)-1]
	assert.GreaterOrEqual(t, last, 60*time.Millisecond)
	assert.LessOrEqual(t, last, 90*time.Millisecond)
	assert.Equal(t, Vector2D{X: p.X, Y: p.Y}, h.Position())
}

func TestClick_InvalidGeometry(t *testing.T) {
	h := newTestHumanoid(t, &mockExecutor{}, DefaultConfig())
	assert.ErrorIs(t, h.Click(context.Background(), nil), ErrInvalidGeometry)
	assert.ErrorIs(t, h.Click(context.Background(), &ElementGeometry{Vertices: []float64{1, 2}}), ErrInvalidGeometry)
	assert.ErrorIs(t, h.Click(context.Background(), box(0, 0, 0, 10)), ErrInvalidGeometry)
}

func TestClick_TinyTargetUsesCenter(t *testing.T) {
	exec := &mockExecutor{}
	h := newTestHumanoid(t, exec, Config{MoveSteps: 0})
	require.NoError(t, h.Click(context.Background(), box(10, 10, 2, 2)))
	press := exec.ofType(MousePress)[0]
	assert.Equal(t, 11.0, press.X)
	assert.Equal(t, 11.0, press.Y)
}

func TestClick_CancelledHoldReleases(t *testing.T) {
	exec := &mockExecutor{sleepErr: context.Canceled}
	h := newTestHumanoid(t, exec, Config{MoveSteps: 0})
	err := h.Click(context.Background(), box(0, 0, 40, 20))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, exec.ofType(MouseRelease), 1)
}

func TestClick_DispatchFailure(t *testing.T) {
	exec := &mockExecutor{failOn: MousePress}
	h := newTestHumanoid(t, exec, DefaultConfig())
	err := h.Click(context.Background(), box(0, 0, 40, 20))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "press failed")
	assert.Empty(t, exec.ofType(MouseRelease))
}

func TestConfigNormalize(t *testing.T) {
	c := Config{ClickHoldMinMs: 80, ClickHoldMaxMs: 10, MoveSteps: -1, Jitter: -2}
	c.normalize()
	assert.Equal(t, 80, c.ClickHoldMaxMs)
	assert.Equal(t, 0, c.MoveSteps)
	assert.Equal(t, 0.0, c.Jitter)

	var zero Config
	zero.normalize()
	assert.Equal(t, 50, zero.ClickHoldMinMs)
	assert.Equal(t, 50, zero.ClickHoldMaxMs)
}

func TestVectorLerp(t *testing.T) {
	a, b := Vector2D{X: 0, Y: 0}, Vector2D{X: 10, Y: 20}
	assert.Equal(t, Vector2D{X: 5, Y: 10}, a.Lerp(b, 0.5))
	assert.InDelta(t, 22.36, a.Dist(b), 0.01)
}
