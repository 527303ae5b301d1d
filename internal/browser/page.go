// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatloom/internal/browser/humanoid"
	"github.com/xkilldash9x/chatloom/internal/host"
)

// defaultOpTimeout bounds a single CDP round trip.
const defaultOpTimeout = 15 * time.Second

// Page is one service's tab. It implements host.Host over CDP.
type Page struct {
	service string
	ctx     context.Context // tab context, carries the CDP target
	cancel  context.CancelFunc
	logger  *zap.Logger
	human   *humanoid.Humanoid

	opTimeout time.Duration

	closeOnce sync.Once
	onClose   func()
}

var (
	_ host.Host         = (*Page)(nil)
	_ humanoid.Executor = (*Page)(nil)
)

// opResult is the envelope every page script returns.
type opResult struct {
	Status   string                    `json:"status"`
	Nodes    []host.Node               `json:"nodes"`
	Match    bool                      `json:"match"`
	Text     string                    `json:"text"`
	Geometry *humanoid.ElementGeometry `json:"geometry"`
}

// Service returns the ID of the service this page belongs to.
func (p *Page) Service() string { return p.service }

// Context returns the tab context. It is done once the page is closed.
func (p *Page) Context() context.Context { return p.ctx }

// run executes actions on the tab, cancelled when either ctx or the tab is done.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	opCtx, cancelTimeout := context.WithTimeout(opCtx, p.opTimeout)
	defer cancelTimeout()

	err := chromedp.Run(opCtx, actions...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.ctx.Err() != nil {
			return fmt.Errorf("page for %s is closed: %w", p.service, p.ctx.Err())
		}
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("browser operation timed out after %v: %w", p.opTimeout, opCtx.Err())
		}
	}
	return err
}

// eval runs one page script and maps its status onto host errors.
func (p *Page) eval(ctx context.Context, body string, args ...any) (*opResult, error) {
	script, err := buildScript(body, args...)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = p.run(ctx, chromedp.Evaluate(script, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	var res opResult
	if err := jsoniter.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w (payload: %s)", err, string(raw))
	}
	switch res.Status {
	case "ok":
		return &res, nil
	case "detached":
		return nil, host.ErrDetached
	case "unsupported":
		return nil, host.ErrUnsupported
	default:
		return nil, fmt.Errorf("unexpected script status %q", res.Status)
	}
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]host.Node, error) {
	res, err := p.eval(ctx, jsQueryAll, selector)
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

func (p *Page) QueryWithin(ctx context.Context, parent host.NodeRef, selector string) ([]host.Node, error) {
	res, err := p.eval(ctx, jsQueryWithin, string(parent), selector)
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

func (p *Page) Closest(ctx context.Context, ref host.NodeRef, selector string) (bool, error) {
	res, err := p.eval(ctx, jsClosest, string(ref), selector)
	if err != nil {
		return false, err
	}
	return res.Match, nil
}

func (p *Page) SetProperty(ctx context.Context, ref host.NodeRef, prop host.Property, value string) error {
	_, err := p.eval(ctx, jsSetProperty, string(ref), string(prop), value)
	return err
}

func (p *Page) Focus(ctx context.Context, ref host.NodeRef) error {
	_, err := p.eval(ctx, jsFocus, string(ref))
	return err
}

func (p *Page) DispatchEvent(ctx context.Context, ref host.NodeRef, ev host.Event) error {
	payload := map[string]any{
		"type":    ev.Type,
		"bubbles": ev.Bubbles,
		"key":     ev.Key,
		"code":    ev.Code,
		"keyCode": ev.KeyCode,
	}
	_, err := p.eval(ctx, jsDispatchEvent, string(ref), payload)
	return err
}

func (p *Page) CollapseCaretToEnd(ctx context.Context, ref host.NodeRef) error {
	_, err := p.eval(ctx, jsCaretToEnd, string(ref))
	return err
}

func (p *Page) SetSelectionRange(ctx context.Context, ref host.NodeRef, start, end int) error {
	_, err := p.eval(ctx, jsSelectionRange, string(ref), start, end)
	return err
}

// Click scrolls the node into view and clicks it with trusted pointer events.
func (p *Page) Click(ctx context.Context, ref host.NodeRef) error {
	res, err := p.eval(ctx, jsGeometry, string(ref))
	if err != nil {
		return err
	}
	if err := p.human.Click(ctx, res.Geometry); err != nil {
		if errors.Is(err, humanoid.ErrInvalidGeometry) {
			return fmt.Errorf("node %s has no clickable box: %w", ref, err)
		}
		return err
	}
	return nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (p *Page) ReadyState(ctx context.Context) (string, error) {
	res, err := p.eval(ctx, jsReadyState)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.logger.Debug("Reloading page.")
	if err := p.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// Navigate loads url in the tab and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Sleep pauses for d unless ctx or the page is done first.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// DispatchMouseEvent sends one pointer event through CDP.
func (p *Page) DispatchMouseEvent(ctx context.Context, data humanoid.MouseEventData) error {
	ev := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
	return p.run(ctx, ev)
}

// Close closes the tab and its browser process.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
		p.logger.Debug("Page closed.")
	})
}

// CombineContext returns a context that carries ctx1's values and is cancelled
// when either ctx1 or ctx2 is done.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	stop := context.AfterFunc(ctx2, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
