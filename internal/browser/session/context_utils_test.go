// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), key, "tab-1")

		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondaryWithCause", func(t *testing.T) {
		boom := errors.New("operator hit ctrl-c")
		secondary, cancelSecondary := context.WithCancelCause(context.Background())
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary(boom)
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, context.Cause(combined), boom)
	})

	t.Run("SecondaryDeadline", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelSecondary()
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context outlived the secondary deadline")
		}
		assert.ErrorIs(t, context.Cause(combined), context.DeadlineExceeded)
	})

	t.Run("CancelFuncReleasesBoth", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		defer cancelSecondary()
		combined, cancel := CombineContext(context.Background(), secondary)

		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
		assert.NoError(t, secondary.Err(), "canceling the combination must not touch its parents")
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	const key ctxKey = "allocator"

	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), key, "remote"), time.Millisecond)
	defer cancel()
	detached := Detach(parent)

	<-parent.Done()
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
	assert.Equal(t, "remote", detached.Value(key))
}
