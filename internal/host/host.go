// Package host defines the contract between the web automation adapters and the
// runtime that owns the embedded chat page.
package host

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrDetached is returned when an operation targets a node that is no longer in the document.
	ErrDetached = errors.New("node is detached from the document")
	// ErrUnsupported is returned when the target node does not support an operation,
	// such as a selection range on a non-text input.
	ErrUnsupported = errors.New("operation not supported by node")
)

// NodeRef is an opaque, stable handle to a node returned by a query.
type NodeRef string

// Node is a snapshot of an element taken at query time.
type Node struct {
	Ref        NodeRef
	Tag        string
	Display    string
	Visibility string
	Disabled   bool
	ReadOnly   bool
	Editable   bool // contenteditable
	HasBox     bool // has at least one layout rect
	Text       string
	Value      string
}

// Visible reports whether the node is rendered.
func (n Node) Visible() bool {
	return n.Display != "none" && n.Visibility != "hidden" && n.HasBox
}

// Interactable reports whether the node is rendered and accepts user input.
func (n Node) Interactable() bool {
	return n.Visible() && !n.Disabled && !n.ReadOnly
}

// IsTextControl reports whether the node is an input or textarea.
func (n Node) IsTextControl() bool {
	switch strings.ToLower(n.Tag) {
	case "input", "textarea":
		return true
	}
	return false
}

// Property names a settable DOM property.
type Property string

const (
	PropTextContent Property = "textContent"
	PropValue       Property = "value"
)

// Event describes a synthetic DOM event. Keyboard fields are ignored for other event types.
type Event struct {
	Type    string
	Bubbles bool
	Key     string
	Code    string
	KeyCode int
}

// Host exposes the page primitives the adapters are built on. Implementations
// must treat an invalid selector as matching nothing.
type Host interface {
	// QueryAll returns every node matching selector, in document order.
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	// QueryWithin returns the descendants of parent matching selector.
	QueryWithin(ctx context.Context, parent NodeRef, selector string) ([]Node, error)
	// Closest reports whether ref or one of its ancestors matches selector.
	Closest(ctx context.Context, ref NodeRef, selector string) (bool, error)

	SetProperty(ctx context.Context, ref NodeRef, prop Property, value string) error
	Focus(ctx context.Context, ref NodeRef) error
	DispatchEvent(ctx context.Context, ref NodeRef, ev Event) error
	// CollapseCaretToEnd places the caret at the end of a contenteditable node.
	CollapseCaretToEnd(ctx context.Context, ref NodeRef) error
	// SetSelectionRange sets the selection of a text control, offsets in UTF-16 code units.
	SetSelectionRange(ctx context.Context, ref NodeRef, start, end int) error
	// Click performs a trusted pointer click on the node.
	Click(ctx context.Context, ref NodeRef) error

	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
}
