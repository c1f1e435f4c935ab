// internal/browser/rodsession/rodsession.go
//
// Package rodsession is the go-rod backend of the browser contracts. Unlike
// the chromedp backend it can scope XPath queries to an element and it
// follows out of process iframes, which some course players are hosted in.
package rodsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/coursewatch/internal/browser"
)

// Driver attaches rod pages to remote tabs.
type Driver struct {
	opts browser.Options
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver creates the go-rod driver.
func NewDriver(opts browser.Options) *Driver {
	return &Driver{opts: opts.WithDefaults()}
}

func (d *Driver) Name() string { return "rod" }

// connect resolves the debugger url of endpoint and opens a connection that
// lives as long as connCtx.
func (d *Driver) connect(ctx, connCtx context.Context, endpoint string) (*rod.Browser, error) {
	type result struct {
		u   string
		err error
	}
	resolved := make(chan result, 1)
	go func() {
		u, err := launcher.ResolveURL(endpoint)
		resolved <- result{u, err}
	}()

	var u string
	select {
	case r := <-resolved:
		if r.err != nil {
			return nil, fmt.Errorf("rod: resolve %s: %w", endpoint, r.err)
		}
		u = r.u
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b := rod.New().ControlURL(u).Context(connCtx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("rod: connect: %w", err)
	}
	return b, nil
}

// Targets lists every target of the remote browser.
func (d *Driver) Targets(ctx context.Context, endpoint string) ([]browser.Target, error) {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	b, err := d.connect(ctx, connCtx, endpoint)
	if err != nil {
		return nil, err
	}

	res, err := proto.TargetGetTargets{}.Call(b.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("rod: list targets: %w", err)
	}
	return toTargets(res.TargetInfos), nil
}

func toTargets(infos []*proto.TargetTargetInfo) []browser.Target {
	targets := make([]browser.Target, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		targets = append(targets, browser.Target{
			ID:    string(info.TargetID),
			Type:  string(info.Type),
			Title: info.Title,
			URL:   info.URL,
		})
	}
	return targets
}

// Attach binds a page to an existing tab. The connection lives until Detach.
func (d *Driver) Attach(ctx context.Context, endpoint string, t browser.Target) (browser.Page, error) {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	b, err := d.connect(ctx, connCtx, endpoint)
	if err != nil {
		cancel()
		return nil, err
	}

	p, err := b.Context(ctx).PageFromTarget(proto.TargetTargetID(t.ID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rod: attach %s: %w", t.ID, err)
	}

	s := &Session{
		ctx:     connCtx,
		cancel:  cancel,
		browser: b,
		page:    p,
		opts:    d.opts,
		logger:  d.opts.Logger.Named("rod").With(zap.String("target", t.ID)),
	}
	s.logger.Info("Attached to browser tab.", zap.String("url", t.URL))
	return s, nil
}

// Session is an attached tab.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	browser *rod.Browser
	page    *rod.Page
	opts    browser.Options
	logger  *zap.Logger
}

var _ browser.Page = (*Session)(nil)

// bind derives the context for one operation: the caller's ctx, bounded by
// the action timeout and the session's own lifetime.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancelTimeout := context.WithTimeout(ctx, s.opts.ActionTimeout)
	bound, cancel := context.WithCancelCause(opCtx)
	stop := context.AfterFunc(s.ctx, func() { cancel(errDetached) })
	return bound, func() {
		stop()
		cancel(context.Canceled)
		cancelTimeout()
	}
}

var errDetached = errors.New("rod: session detached")

// do runs fn with a bound context and normalizes its error.
func (s *Session) do(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	if err := s.ctx.Err(); err != nil {
		return errDetached
	}
	opCtx, release := s.bind(ctx)
	defer release()

	err := fn(opCtx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(context.Cause(opCtx), errDetached) {
		return errDetached
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("rod: %s timed out after %v: %w", what, s.opts.ActionTimeout, err)
	}
	return fmt.Errorf("rod: %s: %w", what, err)
}

func (s *Session) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	return queryPage(ctx, s, s.page, sel)
}

func queryPage(ctx context.Context, s *Session, p *rod.Page, sel browser.Selector) ([]browser.Element, error) {
	var found rod.Elements
	err := s.do(ctx, "query "+sel.String(), func(ctx context.Context) error {
		var err error
		switch sel.Kind {
		case browser.CSS:
			found, err = p.Context(ctx).Elements(sel.Expr)
		case browser.XPath:
			found, err = p.Context(ctx).ElementsX(sel.Expr)
		default:
			return fmt.Errorf("%w: selector kind %v", browser.ErrUnsupported, sel.Kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return wrap(s, found), nil
}

func wrap(s *Session, found rod.Elements) []browser.Element {
	els := make([]browser.Element, 0, len(found))
	for _, el := range found {
		els = append(els, &element{s: s, el: el})
	}
	return els
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	err := s.do(ctx, "location", func(ctx context.Context) error {
		info, err := s.page.Context(ctx).Info()
		if err != nil {
			return err
		}
		url = info.URL
		return nil
	})
	return url, err
}

// Reload reloads the tab and waits for the load event.
func (s *Session) Reload(ctx context.Context) error {
	s.logger.Debug("Reloading tab.")
	return s.do(ctx, "reload", func(ctx context.Context) error {
		p := s.page.Context(ctx)
		if err := p.Reload(); err != nil {
			return err
		}
		return p.WaitLoad()
	})
}

func (s *Session) CloseBrowser(ctx context.Context) error {
	s.logger.Info("Closing browser.")
	return s.do(ctx, "close browser", func(ctx context.Context) error {
		return s.browser.Context(ctx).Close()
	})
}

// Detach stops using the connection. The browser keeps running.
func (s *Session) Detach() error {
	s.once.Do(s.cancel)
	return nil
}
