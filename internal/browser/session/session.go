// internal/browser/session/session.go
//
// Package session is the chromedp backend of the browser contracts. It
// attaches to a tab of an already running browser through its remote
// debugging endpoint and exposes the tab as a browser.Page.
//
// Every call derives its context from two parents: the session context,
// which carries the CDP target, and the caller's operational context, which
// carries cancellation and deadlines (see CombineContext).
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/coursewatch/internal/browser"
)

// Driver attaches chromedp sessions to remote tabs.
type Driver struct {
	opts browser.Options
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver creates the chromedp driver.
func NewDriver(opts browser.Options) *Driver {
	return &Driver{opts: opts.WithDefaults()}
}

func (d *Driver) Name() string { return "chromedp" }

// websocketURL turns host:port into the form chromedp's remote allocator
// resolves through /json/version.
func websocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return endpoint
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	default:
		return "ws://" + endpoint
	}
}

// Targets lists every target of the remote browser.
func (d *Driver) Targets(ctx context.Context, endpoint string) ([]browser.Target, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, websocketURL(endpoint))
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("chromedp: list targets: %w", err)
	}

	targets := make([]browser.Target, 0, len(infos))
	for _, info := range infos {
		targets = append(targets, browser.Target{
			ID:    string(info.TargetID),
			Type:  info.Type,
			Title: info.Title,
			URL:   info.URL,
		})
	}
	return targets, nil
}

// Attach binds a session to an existing tab. The session does not inherit
// ctx's cancellation; it lives until Detach.
func (d *Driver) Attach(ctx context.Context, endpoint string, t browser.Target) (browser.Page, error) {
	parent := Detach(ctx)
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(parent, websocketURL(endpoint))
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithTargetID(target.ID(t.ID)))

	s := &Session{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{cancelTab, cancelBrowser, cancelAlloc},
		opts:    d.opts,
		logger:  d.opts.Logger.Named("chromedp").With(zap.String("target", t.ID)),
	}

	// The first Run on the tab context performs the attach. It must not run
	// on a derived context, or the tab would be bound to that context's lifetime.
	attached := make(chan error, 1)
	go func() { attached <- chromedp.Run(tabCtx) }()
	select {
	case err := <-attached:
		if err != nil {
			s.Detach()
			return nil, fmt.Errorf("chromedp: attach: %w", err)
		}
	case <-ctx.Done():
		// The attach may still be writing the tab's target, so only cancel.
		s.release()
		return nil, ctx.Err()
	}

	s.logger.Info("Attached to browser tab.", zap.String("url", t.URL))
	return s, nil
}

// Session is an attached tab.
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc
	opts    browser.Options
	logger  *zap.Logger
}

var _ browser.Page = (*Session)(nil)

// run executes actions against the tab, bounded by the operational context
// and the per action timeout.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, opCancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer opCancel()

	execCtx, execCancel := CombineContext(s.ctx, opCtx)
	defer execCancel()

	err := chromedp.Run(execCtx, actions...)
	if err == nil {
		return nil
	}
	// Prefer the caller's error so cancellation is never mistaken for a page failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("chromedp: action timed out after %v: %w", s.opts.ActionTimeout, err)
	}
	return err
}

// Query runs sel against the top document.
func (s *Session) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	return s.query(ctx, sel, nil)
}

func (s *Session) query(ctx context.Context, sel browser.Selector, from *cdp.Node) ([]browser.Element, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.AtLeast(0)}

	switch sel.Kind {
	case browser.CSS:
		opts = append(opts, chromedp.ByQueryAll)
		if from != nil {
			opts = append(opts, chromedp.FromNode(from))
		}
	case browser.XPath:
		// DOM.performSearch is document wide and cannot be rooted at a node.
		if from != nil {
			return nil, fmt.Errorf("%w: scoped xpath %q", browser.ErrUnsupported, sel.Expr)
		}
		opts = append(opts, chromedp.BySearch)
	default:
		return nil, fmt.Errorf("%w: selector kind %v", browser.ErrUnsupported, sel.Kind)
	}

	if err := s.run(ctx, chromedp.Nodes(sel.Expr, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", sel, err)
	}

	els := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &element{s: s, node: n})
	}
	return els, nil
}

// URL returns the tab's current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Reload reloads the tab and waits for the load event.
func (s *Session) Reload(ctx context.Context) error {
	s.logger.Debug("Reloading tab.")
	return s.run(ctx, chromedp.Reload())
}

// CloseBrowser asks the browser to exit.
func (s *Session) CloseBrowser(ctx context.Context) error {
	s.logger.Info("Closing browser.")
	return s.run(ctx, cdpbrowser.Close())
}

// Detach releases the session's contexts in reverse order of creation and
// leaves the tab open. chromedp closes an attached target when its context
// is cancelled unless the target ID has been cleared.
func (s *Session) Detach() error {
	if s.ctx != nil {
		if c := chromedp.FromContext(s.ctx); c != nil && c.Target != nil {
			c.Target.TargetID = ""
		}
	}
	s.release()
	return nil
}

func (s *Session) release() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}
