// internal/course/watcher.go
package course

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coursewatch/internal/browser"
	"github.com/xkilldash9x/coursewatch/internal/config"
)

// ErrNoPlayer is returned by Watch when the topic has no video player,
// usually a text or quiz topic.
var ErrNoPlayer = errors.New("course: no video player on page")

// Scripts run against the <video> element. Visibility is spoofed on the
// video's own document, which is the inner player frame.
const (
	spoofVisibilityJS = `function() {
		const doc = this.ownerDocument;
		Object.defineProperty(doc, 'hidden', {get: function() { return false; }, configurable: true});
		Object.defineProperty(doc, 'visibilityState', {get: function() { return 'visible'; }, configurable: true});
		doc.dispatchEvent(new Event('visibilitychange'));
	}`
	playJS = `function() {
		const p = this.play();
		if (p && p.catch) { p.catch(() => {}); }
	}`
	videoStateJS = `function() {
		return {
			ready: this.readyState,
			network: this.networkState,
			src: this.currentSrc || "",
			error: this.error ? this.error.code : 0
		};
	}`
	reloadSourceJS = `function(src) {
		this.src = src;
		this.load();
		const p = this.play();
		if (p && p.catch) { p.catch(() => {}); }
	}`
	mockDurationJS = `function() {
		if (isNaN(this.duration)) {
			Object.defineProperty(this, 'duration', {get: function() { return 100; }, configurable: true});
			return true;
		}
		return false;
	}`
	endedJS = `function() { this.dispatchEvent(new Event('ended')); }`
)

// videoState mirrors the object returned by videoStateJS.
type videoState struct {
	Ready   int    `json:"ready"`
	Network int    `json:"network"`
	Src     string `json:"src"`
	Error   int    `json:"error"`
}

// VideoWatcher forces the video of the currently loaded topic to completion.
type VideoWatcher interface {
	Watch(ctx context.Context) (bool, error)
}

// Watcher drives the nested player frames of a topic page.
type Watcher struct {
	page   browser.Frame
	sel    config.SelectorsConfig
	timing config.TimingConfig
	logger *zap.Logger
}

var _ VideoWatcher = (*Watcher)(nil)

// NewWatcher creates a watcher for the given page.
func NewWatcher(page browser.Frame, sel config.SelectorsConfig, timing config.TimingConfig, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{page: page, sel: sel, timing: timing, logger: logger.Named("watcher")}
}

// Watch reports whether the video was forced to its ended state. It returns
// ErrNoPlayer when the topic has no player and the context error when the
// run is cancelled. Any other failure is logged and returned wrapped.
func (w *Watcher) Watch(ctx context.Context) (bool, error) {
	w.logger.Info("[Status] Looking for video player...")

	if _, err := w.wait(ctx, w.page, w.sel.Player, w.timing.PlayerTimeout); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		w.logger.Info("[Skip] No video player found (text, quiz or network lag).")
		return false, ErrNoPlayer
	}

	if err := w.forceEnded(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		w.logger.Warn(fmt.Sprintf("[Error] Video failed (%s): %s", failureKind(err), firstLine(err.Error())))
		return false, fmt.Errorf("watch video: %w", err)
	}

	w.logger.Info("[Success] Video finished.")
	if err := browser.Pause(ctx, w.timing.PostWatchPause); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Watcher) wait(ctx context.Context, f browser.Frame, css string, timeout time.Duration) (browser.Element, error) {
	return browser.WaitFor(ctx, f, browser.ByCSS(css), timeout, w.timing.PollInterval)
}

// locateVideo descends outer frame, inner frame, then the video element.
func (w *Watcher) locateVideo(ctx context.Context) (browser.Element, error) {
	outer, err := w.enterFrame(ctx, w.page, w.sel.OuterFrame, w.timing.OuterFrameTimeout)
	if err != nil {
		return nil, err
	}
	inner, err := w.enterFrame(ctx, outer, w.sel.InnerFrame, w.timing.WaitTimeout)
	if err != nil {
		return nil, err
	}
	return w.wait(ctx, inner, w.sel.Video, w.timing.WaitTimeout)
}

func (w *Watcher) enterFrame(ctx context.Context, parent browser.Frame, css string, timeout time.Duration) (browser.Frame, error) {
	host, err := w.wait(ctx, parent, css, timeout)
	if err != nil {
		return nil, err
	}
	f, err := host.ContentFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("enter frame %s: %w", css, err)
	}
	return f, nil
}

func (w *Watcher) forceEnded(ctx context.Context) error {
	video, err := w.locateVideo(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("[Status] Video found. Checking state...")

	if err := video.Call(ctx, spoofVisibilityJS, nil); err != nil {
		return fmt.Errorf("spoof visibility: %w", err)
	}
	if err := video.Call(ctx, playJS, nil); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	ready, err := w.awaitMetadata(ctx, video)
	if err != nil {
		return err
	}

	if !ready {
		var mocked bool
		if err := video.Call(ctx, mockDurationJS, &mocked); err != nil {
			return fmt.Errorf("mock duration: %w", err)
		}
		w.logger.Debug("Video never became ready, forcing completion.", zap.Bool("duration_mocked", mocked))
	}

	if err := video.Call(ctx, endedJS, nil); err != nil {
		return fmt.Errorf("dispatch ended: %w", err)
	}
	return nil
}

// awaitMetadata polls readyState, nudging the element every third retry.
func (w *Watcher) awaitMetadata(ctx context.Context, video browser.Element) (bool, error) {
	for i := 0; i < w.timing.ReadyRetries; i++ {
		var st videoState
		if err := video.Call(ctx, videoStateJS, &st); err != nil {
			return false, fmt.Errorf("read video state: %w", err)
		}
		if st.Error != 0 {
			w.logger.Debug("Video reports a media error.", zap.Int("code", st.Error), zap.String("src", st.Src))
		}
		if st.Ready >= 1 {
			return true, nil
		}

		if i > 0 && i%3 == 0 {
			if clean, ok := stripTimeFragment(st.Src); ok {
				w.logger.Debug("Reloading video without its time fragment.", zap.String("src", clean))
				if err := video.Call(ctx, reloadSourceJS, nil, clean); err != nil {
					return false, fmt.Errorf("reload source: %w", err)
				}
			} else if err := video.Call(ctx, playJS, nil); err != nil {
				return false, fmt.Errorf("play: %w", err)
			}
		}

		if err := browser.Pause(ctx, w.timing.ReadyInterval); err != nil {
			return false, err
		}
	}
	return false, nil
}

// stripTimeFragment drops a "#t=" media fragment, which can stall loading
// when it points past the buffered range.
func stripTimeFragment(src string) (string, bool) {
	if !strings.Contains(src, "#t=") {
		return src, false
	}
	return src[:strings.Index(src, "#")], true
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, browser.ErrTimeout):
		return "Timeout"
	case errors.Is(err, browser.ErrNotFrame):
		return "NoSuchFrame"
	case errors.Is(err, browser.ErrUnsupported):
		return "Unsupported"
	default:
		return "Script"
	}
}

func firstLine(s string) string {
	if s == "" {
		return "No message"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
