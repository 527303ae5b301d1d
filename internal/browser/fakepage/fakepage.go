// Package fakepage provides an in-memory host.Host backed by a goquery document.
// It models just enough of a browser page to exercise the adapters: inline-style
// visibility, disabled and readonly attributes, contenteditable, and stable node
// references. Every interaction is recorded for assertions.
package fakepage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/chatloom/internal/host"
)

const refAttr = "data-chatloom-ref"

// Call records one host interaction.
type Call struct {
	Op    string
	Ref   host.NodeRef
	Event host.Event
	Value string
	Start int
	End   int
}

// Page is a scripted page. The zero value is not usable, use New.
type Page struct {
	mu         sync.Mutex
	doc        *goquery.Document
	title      string
	url        string
	readyState string
	nextRef    int
	calls      []Call
	reloads    int

	onClick  []clickHook
	onEvent  []func(p *Page, ev host.Event)
	onReload func(p *Page)
}

type clickHook struct {
	selector string
	fn       func(p *Page)
}

var _ host.Host = (*Page)(nil)

// New parses body as the page's document.
func New(body string) *Page {
	p := &Page{readyState: "complete", url: "about:blank"}
	p.doc = mustParse(body)
	return p
}

func mustParse(body string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("fakepage: invalid html: %v", err))
	}
	return doc
}

// -- Scripting --

// SetHTML replaces the document. All previously returned refs become detached.
func (p *Page) SetHTML(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = mustParse(body)
}

// Append appends markup to every element matching selector.
func (p *Page) Append(selector, markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find(selector).AppendHtml(markup)
}

// SetText replaces the text of every element matching selector.
func (p *Page) SetText(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find(selector).SetText(text)
}

// SetAttr sets an attribute on every element matching selector.
func (p *Page) SetAttr(selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find(selector).SetAttr(name, value)
}

// RemoveAttr removes an attribute from every element matching selector.
func (p *Page) RemoveAttr(selector, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find(selector).RemoveAttr(name)
}

// Remove deletes every element matching selector.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find(selector).Remove()
}

// Count returns how many elements match selector.
func (p *Page) Count(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector).Length()
}

// TextOf returns the text of the first element matching selector.
func (p *Page) TextOf(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector).First().Text()
}

// ValueOf returns the current value of the first text control matching selector.
func (p *Page) ValueOf(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return valueOf(p.doc.Find(selector).First())
}

func (p *Page) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) SetReadyState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readyState = state
}

// OnClick registers fn to run after a click on an element matching selector.
func (p *Page) OnClick(selector string, fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick = append(p.onClick, clickHook{selector: selector, fn: fn})
}

// OnEvent registers fn to run after every dispatched event.
func (p *Page) OnEvent(fn func(p *Page, ev host.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvent = append(p.onEvent, fn)
}

// OnReload registers fn to run after every reload.
func (p *Page) OnReload(fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReload = fn
}

// Calls returns a copy of the recorded interactions.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsOf returns the recorded interactions with the given op.
func (p *Page) CallsOf(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reloads returns how many times the page was reloaded.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// RefMatches reports whether ref points at an element matching selector.
func (p *Page) RefMatches(ref host.NodeRef, selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.resolve(ref)
	return err == nil && sel.Is(selector)
}

// -- host.Host --

func (p *Page) QueryAll(ctx context.Context, selector string) ([]host.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.describeAll(p.doc.Find(selector)), nil
}

func (p *Page) QueryWithin(ctx context.Context, parent host.NodeRef, selector string) ([]host.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.resolve(parent)
	if err != nil {
		return nil, err
	}
	return p.describeAll(sel.Find(selector)), nil
}

func (p *Page) Closest(ctx context.Context, ref host.NodeRef, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.resolve(ref)
	if err != nil {
		return false, err
	}
	return sel.Closest(selector).Length() > 0, nil
}

func (p *Page) SetProperty(ctx context.Context, ref host.NodeRef, prop host.Property, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.resolve(ref)
	if err != nil {
		return err
	}
	switch prop {
	case host.PropTextContent:
		sel.SetText(value)
	case host.PropValue:
		sel.SetAttr("value", value)
	default:
		return fmt.Errorf("fakepage: unknown property %q", prop)
	}
	p.calls = append(p.calls, Call{Op: "set:" + string(prop), Ref: ref, Value: value})
	return nil
}

func (p *Page) Focus(ctx context.Context, ref host.NodeRef) error {
	return p.record(ctx, Call{Op: "focus", Ref: ref})
}

func (p *Page) CollapseCaretToEnd(ctx context.Context, ref host.NodeRef) error {
	return p.record(ctx, Call{Op: "caret-end", Ref: ref})
}

func (p *Page) SetSelectionRange(ctx context.Context, ref host.NodeRef, start, end int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.resolve(ref)
	if err != nil {
		return err
	}
	if n := goquery.NodeName(sel); n != "input" && n != "textarea" {
		return host.ErrUnsupported
	}
	p.calls = append(p.calls, Call{Op: "selection", Ref: ref, Start: start, End: end})
	return nil
}

func (p *Page) DispatchEvent(ctx context.Context, ref host.NodeRef, ev host.Event) error {
	if err := p.record(ctx, Call{Op: "event", Ref: ref, Event: ev}); err != nil {
		return err
	}
	p.mu.Lock()
	hooks := append([]func(*Page, host.Event){}, p.onEvent...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(p, ev)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, ref host.NodeRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	sel, err := p.resolve(ref)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.calls = append(p.calls, Call{Op: "click", Ref: ref})
	var fire []func(*Page)
	for _, h := range p.onClick {
		if sel.Is(h.selector) {
			fire = append(fire, h.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fire {
		fn(p)
	}
	return nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.title != "" {
		return p.title, ctx.Err()
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text()), ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, ctx.Err()
}

func (p *Page) ReadyState(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyState, ctx.Err()
}

// Reload re-parses the current markup without node references, then runs the reload hook.
func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.doc.Find("[" + refAttr + "]").RemoveAttr(refAttr)
	markup, err := p.doc.Html()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("fakepage: render failed: %w", err)
	}
	p.doc = mustParse(markup)
	p.reloads++
	p.calls = append(p.calls, Call{Op: "reload"})
	fn := p.onReload
	p.mu.Unlock()

	if fn != nil {
		fn(p)
	}
	return nil
}

// -- internals --

func (p *Page) record(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.resolve(c.Ref); err != nil {
		return err
	}
	p.calls = append(p.calls, c)
	return nil
}

func (p *Page) resolve(ref host.NodeRef) (*goquery.Selection, error) {
	if ref == "" {
		return nil, host.ErrDetached
	}
	sel := p.doc.Find(fmt.Sprintf("[%s=%q]", refAttr, string(ref)))
	if sel.Length() == 0 {
		return nil, host.ErrDetached
	}
	return sel.First(), nil
}

func (p *Page) describeAll(sel *goquery.Selection) []host.Node {
	nodes := make([]host.Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, p.describe(s))
	})
	return nodes
}

func (p *Page) describe(s *goquery.Selection) host.Node {
	ref, ok := s.Attr(refAttr)
	if !ok {
		p.nextRef++
		ref = fmt.Sprintf("n%d", p.nextRef)
		s.SetAttr(refAttr, ref)
	}

	own := parseStyle(s)
	display := own["display"]
	if display == "" {
		display = "block"
	}
	if _, hidden := s.Attr("hidden"); hidden {
		display = "none"
	}

	tag := goquery.NodeName(s)
	editable, hasEditable := s.Attr("contenteditable")
	_, disabled := s.Attr("disabled")
	_, readonly := s.Attr("readonly")

	n := host.Node{
		Ref:        host.NodeRef(ref),
		Tag:        strings.ToUpper(tag),
		Display:    display,
		Visibility: inheritedVisibility(s),
		Disabled:   disabled || s.AttrOr("aria-disabled", "") == "true",
		ReadOnly:   readonly,
		Editable:   hasEditable && editable != "false",
		HasBox:     hasBox(s),
		Text:       strings.TrimSpace(s.Text()),
		Value:      valueOf(s),
	}
	if n.IsTextControl() {
		n.Text = n.Value
	}
	return n
}

func valueOf(s *goquery.Selection) string {
	if v, ok := s.Attr("value"); ok {
		return v
	}
	if goquery.NodeName(s) == "textarea" {
		return s.Text()
	}
	return ""
}

// hasBox is false when the node or an ancestor is display:none or hidden.
func hasBox(s *goquery.Selection) bool {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if cur.Nodes[0].Type != html.ElementNode {
			break
		}
		if _, hidden := cur.Attr("hidden"); hidden {
			return false
		}
		if parseStyle(cur)["display"] == "none" {
			return false
		}
	}
	return true
}

func inheritedVisibility(s *goquery.Selection) string {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if cur.Nodes[0].Type != html.ElementNode {
			break
		}
		if v := parseStyle(cur)["visibility"]; v != "" {
			return v
		}
	}
	return "visible"
}

func parseStyle(s *goquery.Selection) map[string]string {
	out := make(map[string]string)
	style, ok := s.Attr("style")
	if !ok {
		return out
	}
	for _, decl := range strings.Split(style, ";") {
		k, v, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
