// internal/browser/session/context_utils.go
package session

import (
	"context"
)

// CombineContext returns a context that carries primary's values (the CDP
// target) and is canceled as soon as either primary or secondary is done.
// The cause recorded on the combined context is secondary's cause when
// secondary finished first.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context with ctx's values but without its deadline or
// cancellation. Sessions are created from it so that they outlive the call
// that attached them.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
