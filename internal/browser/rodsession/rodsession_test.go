// internal/browser/rodsession/rodsession_test.go
package rodsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/coursewatch/internal/browser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSession(t *testing.T, timeout time.Duration) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	opts := browser.Options{ActionTimeout: timeout}.WithDefaults()
	return &Session{ctx: ctx, cancel: cancel, opts: opts, logger: opts.Logger}
}

func TestToTargets(t *testing.T) {
	infos := []*proto.TargetTargetInfo{
		{TargetID: "A1", Type: proto.TargetTargetInfoType("page"), Title: "Course", URL: "https://lms.example/course/1"},
		nil,
		{TargetID: "W9", Type: proto.TargetTargetInfoType("service_worker"), URL: "https://lms.example/sw.js"},
	}

	targets := toTargets(infos)
	require.Len(t, targets, 2)
	assert.Equal(t, browser.Target{ID: "A1", Type: "page", Title: "Course", URL: "https://lms.example/course/1"}, targets[0])
	assert.True(t, targets[0].IsPage())
	assert.False(t, targets[1].IsPage())
}

func TestDecode(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		obj := &proto.RuntimeRemoteObject{Value: gson.New(map[string]interface{}{"ready": 4, "duration": 12.5})}
		var res struct {
			Ready    int     `json:"ready"`
			Duration float64 `json:"duration"`
		}
		require.NoError(t, decode(obj, &res))
		assert.Equal(t, 4, res.Ready)
		assert.Equal(t, 12.5, res.Duration)
	})

	t.Run("string", func(t *testing.T) {
		var s string
		require.NoError(t, decode(&proto.RuntimeRemoteObject{Value: gson.New("ok")}, &s))
		assert.Equal(t, "ok", s)
	})

	t.Run("nil target is ignored", func(t *testing.T) {
		assert.NoError(t, decode(&proto.RuntimeRemoteObject{Value: gson.New(1)}, nil))
	})

	t.Run("type mismatch", func(t *testing.T) {
		var n int
		assert.Error(t, decode(&proto.RuntimeRemoteObject{Value: gson.New("nope")}, &n))
	})
}

func TestIsFrameNode(t *testing.T) {
	assert.True(t, isFrameNode("IFRAME"))
	assert.True(t, isFrameNode("frame"))
	assert.False(t, isFrameNode("VIDEO"))
	assert.False(t, isFrameNode(""))
}

func TestSessionDo(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := newTestSession(t, time.Second)
		called := false
		require.NoError(t, s.do(context.Background(), "noop", func(ctx context.Context) error {
			called = true
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "operations are bounded by the action timeout")
			return nil
		}))
		assert.True(t, called)
	})

	t.Run("action timeout is reported", func(t *testing.T) {
		s := newTestSession(t, 10*time.Millisecond)
		err := s.do(context.Background(), "click", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "click timed out")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller cancellation wins", func(t *testing.T) {
		s := newTestSession(t, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		err := s.do(ctx, "query", func(opCtx context.Context) error {
			cancel()
			<-opCtx.Done()
			return opCtx.Err()
		})
		assert.Equal(t, context.Canceled, err)
	})

	t.Run("plain errors are wrapped", func(t *testing.T) {
		s := newTestSession(t, time.Second)
		boom := errors.New("node is detached from document")
		err := s.do(context.Background(), "text", func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "rod: text")
	})

	t.Run("detached sessions refuse work", func(t *testing.T) {
		s := newTestSession(t, time.Second)
		require.NoError(t, s.Detach())
		require.NoError(t, s.Detach())

		called := false
		err := s.do(context.Background(), "query", func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, errDetached)
		assert.False(t, called)
	})

	t.Run("detach interrupts a running operation", func(t *testing.T) {
		s := newTestSession(t, time.Second)
		err := s.do(context.Background(), "reload", func(ctx context.Context) error {
			s.Detach()
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, errDetached)
	})
}

func TestNewDriver(t *testing.T) {
	d := NewDriver(browser.Options{})
	assert.Equal(t, "rod", d.Name())
	assert.Equal(t, 20*time.Second, d.opts.ActionTimeout)
}

func TestUnsupportedSelectorKind(t *testing.T) {
	s := newTestSession(t, time.Second)
	_, err := queryPage(context.Background(), s, nil, browser.Selector{Kind: browser.Kind(7), Expr: "x"})
	assert.ErrorIs(t, err, browser.ErrUnsupported)
}
