// Package browser defines the driver neutral view of a remote browser tab
// that the course walker operates on. Concrete backends live in
// browser/session (chromedp) and browser/rodsession (go-rod).
//
// Element handles are only valid until the next page mutation. Callers are
// expected to re-query instead of holding on to them across clicks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTimeout is returned by WaitFor when nothing matched in time.
	ErrTimeout = errors.New("browser: timed out waiting for element")
	// ErrNoPageTarget means the endpoint answered but exposes no page tab.
	ErrNoPageTarget = errors.New("browser: no page target to attach to")
	// ErrUnsupported marks a query form a backend cannot evaluate.
	ErrUnsupported = errors.New("browser: operation not supported by driver")
	// ErrNotFrame is returned by ContentFrame on elements without a content document.
	ErrNotFrame = errors.New("browser: element is not a frame")
)

// Kind is the query language of a Selector.
type Kind int

const (
	CSS Kind = iota
	XPath
)

func (k Kind) String() string {
	switch k {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Selector is a query against a document or an element subtree.
type Selector struct {
	Kind Kind
	Expr string
}

// ByCSS builds a CSS selector.
func ByCSS(expr string) Selector { return Selector{Kind: CSS, Expr: expr} }

// ByXPath builds an XPath selector.
func ByXPath(expr string) Selector { return Selector{Kind: XPath, Expr: expr} }

func (s Selector) String() string { return s.Kind.String() + ":" + s.Expr }

// Frame is anything elements can be queried from: a document, an iframe's
// content document or an element subtree. Zero matches is not an error.
type Frame interface {
	Query(ctx context.Context, sel Selector) ([]Element, error)
}

// Element is an ephemeral handle to a node on the page.
type Element interface {
	Frame

	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Click performs a real mouse click on the element.
	Click(ctx context.Context) error
	// Call invokes the JavaScript function declaration fn with `this` bound
	// to the element and decodes its JSON result into res (which may be nil).
	Call(ctx context.Context, fn string, res interface{}, args ...interface{}) error
	// ContentFrame returns the document hosted by an iframe element.
	ContentFrame(ctx context.Context) (Frame, error)
}

// Page is an attached browser tab.
type Page interface {
	Frame

	URL(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	// Detach drops the debugging connection and leaves the browser running.
	Detach() error
	// CloseBrowser shuts the whole browser down.
	CloseBrowser(ctx context.Context) error
}

// Target describes one debuggable target exposed by the endpoint.
type Target struct {
	ID    string
	Type  string
	Title string
	URL   string
}

// IsPage reports whether the target is a regular tab.
func (t Target) IsPage() bool { return t.Type == "page" }

// Driver is an automation backend able to attach to a running browser.
type Driver interface {
	Name() string
	// Targets lists the targets of the browser at endpoint (host:port).
	Targets(ctx context.Context, endpoint string) ([]Target, error)
	// Attach binds to the given tab. The returned Page outlives ctx; release it with Detach.
	Attach(ctx context.Context, endpoint string, target Target) (Page, error)
}

// Options are shared by every backend.
type Options struct {
	// ActionTimeout bounds every single query, click and script call.
	ActionTimeout time.Duration
	Logger        *zap.Logger
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 20 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
