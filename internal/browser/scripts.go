// internal/browser/scripts.go
package browser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// refAttr tags every node handed out by a query so later calls can find it again.
// Refs carry a per-document prefix, so a ref never resolves in a reloaded document.
const refAttr = "data-chatloom-ref"

// prelude is prepended to every evaluated operation.
const prelude = `
const R = '` + refAttr + `';
const tag = (el) => {
  let r = el.getAttribute(R);
  if (!r) {
    window.__chatloomDoc = window.__chatloomDoc || Math.random().toString(36).slice(2, 8);
    window.__chatloomSeq = (window.__chatloomSeq || 0) + 1;
    r = window.__chatloomDoc + '-' + window.__chatloomSeq;
    el.setAttribute(R, r);
  }
  return r;
};
const snap = (el) => {
  const cs = window.getComputedStyle(el);
  return {
    ref: tag(el),
    tag: el.tagName.toLowerCase(),
    display: cs.display,
    visibility: cs.visibility,
    disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
    readOnly: !!el.readOnly,
    editable: !!el.isContentEditable,
    hasBox: el.getClientRects().length > 0,
    text: (el.innerText !== undefined ? el.innerText : el.textContent) || '',
    value: ('value' in el && el.value != null) ? String(el.value) : '',
  };
};
const find = (ref) => document.querySelector('[' + R + '="' + CSS.escape(ref) + '"]');
const select = (root, sel) => {
  try { return Array.from(root.querySelectorAll(sel)); } catch (e) { return []; }
};
const DETACHED = { status: 'detached' };
const OK = { status: 'ok' };
`

// Operation bodies. Each receives its arguments through the args array.
const (
	jsQueryAll = `return { status: 'ok', nodes: select(document, args[0]).map(snap) };`

	jsQueryWithin = `
const el = find(args[0]);
if (!el) return DETACHED;
return { status: 'ok', nodes: select(el, args[1]).map(snap) };`

	jsClosest = `
const el = find(args[0]);
if (!el) return DETACHED;
let m = false;
try { m = el.closest(args[1]) !== null; } catch (e) { m = false; }
return { status: 'ok', match: m };`

	jsSetProperty = `
const el = find(args[0]);
if (!el) return DETACHED;
if (args[1] === 'value') {
  const d = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value');
  if (d && d.set) { d.set.call(el, args[2]); } else { el.value = args[2]; }
} else {
  el[args[1]] = args[2];
}
return OK;`

	jsFocus = `
const el = find(args[0]);
if (!el) return DETACHED;
el.focus();
return OK;`

	jsDispatchEvent = `
const el = find(args[0]);
if (!el) return DETACHED;
const ev = args[1];
const init = { bubbles: ev.bubbles, cancelable: true };
let e;
if (ev.type.startsWith('key')) {
  e = new KeyboardEvent(ev.type, Object.assign(init, { key: ev.key, code: ev.code, keyCode: ev.keyCode, which: ev.keyCode }));
} else if (ev.type === 'input') {
  e = new InputEvent('input', Object.assign(init, { inputType: 'insertText' }));
} else {
  e = new Event(ev.type, init);
}
el.dispatchEvent(e);
return OK;`

	jsCaretToEnd = `
const el = find(args[0]);
if (!el) return DETACHED;
const range = document.createRange();
range.selectNodeContents(el);
range.collapse(false);
const sel = window.getSelection();
sel.removeAllRanges();
sel.addRange(range);
return OK;`

	jsSelectionRange = `
const el = find(args[0]);
if (!el) return DETACHED;
if (typeof el.setSelectionRange !== 'function') return { status: 'unsupported' };
try { el.setSelectionRange(args[1], args[2]); } catch (e) { return { status: 'unsupported' }; }
return OK;`

	jsGeometry = `
const el = find(args[0]);
if (!el) return DETACHED;
el.scrollIntoView({ block: 'center', inline: 'center' });
const r = el.getBoundingClientRect();
return { status: 'ok', geometry: {
  vertices: [r.left, r.top, r.right, r.top, r.right, r.bottom, r.left, r.bottom],
  width: Math.round(r.width),
  height: Math.round(r.height),
} };`

	jsReadyState = `return { status: 'ok', text: document.readyState };`
)

// buildScript wraps body and its JSON-encoded arguments into a self-invoking expression.
func buildScript(body string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := jsoniter.MarshalToString(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString(prelude)
	b.WriteString("const args = ")
	b.WriteString(encoded)
	b.WriteString(";\n")
	b.WriteString(body)
	b.WriteString("\n})()")
	return b.String(), nil
}
