// internal/browser/rodsession/element.go
package rodsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/coursewatch/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type element struct {
	s  *Session
	el *rod.Element
}

var _ browser.Element = (*element)(nil)

func (e *element) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	var found rod.Elements
	err := e.s.do(ctx, "query "+sel.String(), func(ctx context.Context) error {
		var err error
		switch sel.Kind {
		case browser.CSS:
			found, err = e.el.Context(ctx).Elements(sel.Expr)
		case browser.XPath:
			found, err = e.el.Context(ctx).ElementsX(sel.Expr)
		default:
			return fmt.Errorf("%w: selector kind %v", browser.ErrUnsupported, sel.Kind)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return wrap(e.s, found), nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.s.do(ctx, "text", func(ctx context.Context) error {
		var err error
		text, err = e.el.Context(ctx).Text()
		return err
	})
	return strings.TrimSpace(text), err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var value *string
	err := e.s.do(ctx, "attribute "+name, func(ctx context.Context) error {
		var err error
		value, err = e.el.Context(ctx).Attribute(name)
		return err
	})
	if err != nil || value == nil {
		return "", false, err
	}
	return *value, true, nil
}

func (e *element) Click(ctx context.Context) error {
	return e.s.do(ctx, "click", func(ctx context.Context) error {
		return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
	})
}

// Call evaluates fn with this bound to the element.
func (e *element) Call(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	return e.s.do(ctx, "call", func(ctx context.Context) error {
		obj, err := e.el.Context(ctx).Eval(fn, args...)
		if err != nil {
			return err
		}
		return decode(obj, res)
	})
}

// decode copies a by-value remote object into res.
func decode(obj *proto.RuntimeRemoteObject, res interface{}) error {
	if res == nil || obj == nil {
		return nil
	}
	raw, err := json.Marshal(obj.Value)
	if err != nil {
		return fmt.Errorf("encode remote value: %w", err)
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("decode remote value: %w", err)
	}
	return nil
}

func (e *element) ContentFrame(ctx context.Context) (browser.Frame, error) {
	var fp *rod.Page
	err := e.s.do(ctx, "content frame", func(ctx context.Context) error {
		node, err := e.el.Context(ctx).Describe(0, false)
		if err != nil {
			return err
		}
		if !isFrameNode(node.NodeName) {
			return fmt.Errorf("%w: <%s>", browser.ErrNotFrame, strings.ToLower(node.NodeName))
		}
		fp, err = e.el.Context(ctx).Frame()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &frame{s: e.s, page: fp}, nil
}

func isFrameNode(name string) bool {
	switch strings.ToUpper(name) {
	case "IFRAME", "FRAME":
		return true
	default:
		return false
	}
}

// frame is the document of an iframe, which rod models as its own page.
type frame struct {
	s    *Session
	page *rod.Page
}

func (f *frame) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	return queryPage(ctx, f.s, f.page, sel)
}
