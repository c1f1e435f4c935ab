// internal/browser/session/element.go
package session

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/coursewatch/internal/browser"
)

const (
	textJS = `function() { return (this.innerText || this.textContent || "").trim(); }`
	// Always returns an object; chromedp rejects null and undefined results for value targets.
	attributeJS = `function(name) {
		const present = this.hasAttribute(name);
		return {present: present, value: present ? this.getAttribute(name) : ""};
	}`
)

// element is a node handle bound to its session.
type element struct {
	s    *Session
	node *cdp.Node
}

var _ browser.Element = (*element)(nil)

func (e *element) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	return e.s.query(ctx, sel, e.node)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.Call(ctx, textJS, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	if err := e.Call(ctx, attributeJS, &res, name); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

// Click dispatches a left click at the center of the node's box, scrolling it into view first.
func (e *element) Click(ctx context.Context) error {
	if err := e.s.run(ctx, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click <%s>: %w", e.node.LocalName, err)
	}
	return nil
}

// Call resolves the node to a remote object and invokes fn on it.
func (e *element) Call(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	return e.s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		// Best effort; the object group dies with the page anyway.
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		onObject := func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}
		return chromedp.CallFunctionOn(fn, res, onObject, args...).Do(ctx)
	}))
}

// ContentFrame scopes queries to the document inside an iframe node. Frames
// rendered by another process carry no content document in this tab's DOM.
func (e *element) ContentFrame(ctx context.Context) (browser.Frame, error) {
	switch e.node.NodeName {
	case "IFRAME", "FRAME":
	default:
		return nil, fmt.Errorf("%w: <%s>", browser.ErrNotFrame, e.node.LocalName)
	}
	if e.node.ContentDocument == nil {
		return nil, fmt.Errorf("%w: <%s> content is out of process, use --driver rod", browser.ErrUnsupported, e.node.LocalName)
	}
	return &frame{s: e.s, node: e.node}, nil
}

// frame queries beneath an iframe node. chromedp descends into the frame's
// content document when FromNode is given an iframe.
type frame struct {
	s    *Session
	node *cdp.Node
}

func (f *frame) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if sel.Kind != browser.CSS {
		return nil, fmt.Errorf("%w: %s inside a frame", browser.ErrUnsupported, sel)
	}
	return f.s.query(ctx, sel, f.node)
}
