package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scripts shared by every backend. They run with `this` bound to an element.
const (
	scrollIntoViewJS = `function() { this.scrollIntoView({block: 'center'}); }`
)

// WaitFor polls f until sel matches at least one element or timeout elapses.
// Query errors are treated like "not there yet", mirroring a presence wait.
func WaitFor(ctx context.Context, f Frame, sel Selector, timeout, interval time.Duration) (Element, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		els, err := f.Query(waitCtx, sel)
		if err == nil && len(els) > 0 {
			return els[0], nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if lastErr != nil {
				return nil, fmt.Errorf("%w after %v (%s): %v", ErrTimeout, timeout, sel, lastErr)
			}
			return nil, fmt.Errorf("%w after %v (%s)", ErrTimeout, timeout, sel)
		case <-ticker.C:
		}
	}
}

// Pause sleeps for d unless ctx ends first.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Exists reports whether sel matches anything under f.
func Exists(ctx context.Context, f Frame, sel Selector) (bool, error) {
	els, err := f.Query(ctx, sel)
	if err != nil {
		return false, err
	}
	return len(els) > 0, nil
}

// ClassContains reports whether the element's class attribute contains s.
// Icon fonts put state into compound names, so this is a substring match.
func ClassContains(ctx context.Context, el Element, s string) (bool, error) {
	classes, ok, err := el.Attribute(ctx, "class")
	if err != nil || !ok {
		return false, err
	}
	return strings.Contains(classes, s), nil
}

// ScrollIntoView centers the element in the viewport.
func ScrollIntoView(ctx context.Context, el Element) error {
	return el.Call(ctx, scrollIntoViewJS, nil)
}
