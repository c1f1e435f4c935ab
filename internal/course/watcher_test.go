// internal/course/watcher_test.go
package course

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/coursewatch/internal/browser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

func newTestWatcher(c *fakeCourse, logger *zap.Logger) *Watcher {
	return NewWatcher(c, c.cfg.Selectors(), c.cfg.Timing(), logger)
}

// load simulates a click on the topic so its page is shown.
func load(c *fakeCourse, t *fakeTopic) *fakeCourse {
	c.current = t
	return c
}

func TestWatch(t *testing.T) {
	t.Run("ready video is ended immediately", func(t *testing.T) {
		topic := videoTopic("intro")
		c := load(newFakeCourse(), topic)

		ok, err := newTestWatcher(c, nil).Watch(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, topic.video.ended)
		assert.False(t, topic.video.mocked)
		if diff := cmp.Diff([]string{"spoof", "play", "state", "ended"}, topic.video.calls); diff != "" {
			t.Errorf("script calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("video ready after a few polls", func(t *testing.T) {
		topic := videoTopic("slow")
		topic.video.readyAfter = 2
		c := load(newFakeCourse(), topic)

		ok, err := newTestWatcher(c, nil).Watch(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, topic.video.reads)
		assert.False(t, topic.video.mocked)
	})

	t.Run("stalled video is nudged then forced", func(t *testing.T) {
		topic := videoTopic("stalled")
		topic.video.readyAfter = -1
		topic.video.src = "https://cdn.example/stalled.mp4#t=30"
		c := load(newFakeCourse(), topic)

		ok, err := newTestWatcher(c, nil).Watch(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)

		want := []string{
			"spoof", "play",
			"state", "state", "state", "state", "reload",
			"state", "state", "state", "play",
			"state", "state", "state", "play",
			"mock", "ended",
		}
		if diff := cmp.Diff(want, topic.video.calls); diff != "" {
			t.Errorf("script calls mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "https://cdn.example/stalled.mp4", topic.video.src)
		assert.True(t, topic.video.mocked)
		assert.True(t, topic.done)
	})

	t.Run("media errors are only logged at debug", func(t *testing.T) {
		topic := videoTopic("broken")
		topic.video.readyAfter = 1
		topic.video.errorCode = 4
		c := load(newFakeCourse(), topic)
		logger, logs := observed(zapcore.DebugLevel)

		ok, err := newTestWatcher(c, logger).Watch(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)

		entries := logs.FilterMessage("Video reports a media error.").All()
		require.NotEmpty(t, entries)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	})

	t.Run("no player", func(t *testing.T) {
		topic := textTopic("reading")
		c := load(newFakeCourse(), topic)
		logger, logs := observed(zapcore.InfoLevel)

		ok, err := newTestWatcher(c, logger).Watch(context.Background())
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrNoPlayer)
		assert.Equal(t, 1, logs.FilterMessageSnippet("[Skip] No video player found").Len())
	})

	t.Run("missing inner frame fails softly", func(t *testing.T) {
		topic := videoTopic("framed")
		topic.video.missingPane = true
		c := load(newFakeCourse(), topic)
		logger, logs := observed(zapcore.InfoLevel)

		ok, err := newTestWatcher(c, logger).Watch(context.Background())
		assert.False(t, ok)
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrTimeout)
		assert.NotErrorIs(t, err, ErrNoPlayer)
		assert.Equal(t, 1, logs.FilterMessageSnippet("[Error] Video failed (Timeout)").Len())
		assert.False(t, topic.video.ended)
	})

	t.Run("a frame the backend cannot enter fails fast", func(t *testing.T) {
		topic := videoTopic("remote")
		topic.video.outOfProcess = true
		c := load(newFakeCourse(), topic)
		c.cfg.TimingCfg.OuterFrameTimeout = time.Minute
		c.cfg.TimingCfg.WaitTimeout = time.Minute
		logger, logs := observed(zapcore.InfoLevel)

		start := time.Now()
		ok, err := newTestWatcher(c, logger).Watch(context.Background())
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.False(t, ok)
		assert.ErrorIs(t, err, browser.ErrUnsupported)
		assert.Equal(t, 1, logs.FilterMessageSnippet("[Error] Video failed (Unsupported)").Len())
		assert.False(t, topic.video.ended)
	})

	t.Run("cancellation is returned as is", func(t *testing.T) {
		topic := videoTopic("cancelled")
		c := load(newFakeCourse(), topic)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ok, err := newTestWatcher(c, nil).Watch(ctx)
		assert.False(t, ok)
		assert.Equal(t, context.Canceled, err)
	})
}

func TestStripTimeFragment(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://cdn.example/a.mp4#t=12.5", "https://cdn.example/a.mp4", true},
		{"https://cdn.example/a.mp4#t=0,30", "https://cdn.example/a.mp4", true},
		{"https://cdn.example/a.mp4#xywh=1,2,3,4", "https://cdn.example/a.mp4#xywh=1,2,3,4", false},
		{"https://cdn.example/a.mp4", "https://cdn.example/a.mp4", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := stripTimeFragment(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestFailureDescription(t *testing.T) {
	assert.Equal(t, "Timeout", failureKind(browser.ErrTimeout))
	assert.Equal(t, "NoSuchFrame", failureKind(browser.ErrNotFrame))
	assert.Equal(t, "Script", failureKind(assert.AnError))

	assert.Equal(t, "first", firstLine("first\nsecond"))
	assert.Equal(t, "No message", firstLine(""))
}
