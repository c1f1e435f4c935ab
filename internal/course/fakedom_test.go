// internal/course/fakedom_test.go
package course

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/coursewatch/internal/browser"
	"github.com/xkilldash9x/coursewatch/internal/config"
)

// fakeCourse is an in-memory course player: a table of contents with
// collapsible sections and a content pane that hosts the nested player frames.
type fakeCourse struct {
	cfg      *config.Config
	sections []*fakeSection
	current  *fakeTopic
	reloads  int
	detached bool
	closed   bool
	onReload func(*fakeCourse)
}

type fakeSection struct {
	title  string
	open   bool
	clicks int
	opens  int
	// hiddenUntilOpens keeps the topic list empty until the section was opened that often.
	hiddenUntilOpens int
	forceTick        bool
	topics           []*fakeTopic
}

type fakeTopic struct {
	name        string
	done        bool
	doneOnClick bool
	// stubborn topics never record completion.
	stubborn bool
	clickErr error
	clicks   int
	video    *fakeVideo
}

type fakeVideo struct {
	src string
	// readyAfter is the number of state reads before readyState turns 1. Negative never.
	readyAfter  int
	errorCode   int
	missingPane bool
	// outOfProcess player frames cannot be entered by the backend.
	outOfProcess bool
	reads       int
	calls       []string
	ended       bool
	mocked      bool
}

func newFakeCourse(sections ...*fakeSection) *fakeCourse {
	cfg := config.NewDefaultConfig()
	cfg.SelectorsCfg.TopicsXPath = "topics-%d"
	cfg.TimingCfg = config.TimingConfig{
		PlayerTimeout:     20 * time.Millisecond,
		OuterFrameTimeout: 20 * time.Millisecond,
		WaitTimeout:       20 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		ReadyRetries:      10,
	}
	cfg.VerificationCfg.Delay = 0
	return &fakeCourse{cfg: cfg, sections: sections}
}

func (c *fakeCourse) sel() config.SelectorsConfig { return c.cfg.SelectorsCfg }

func (s *fakeSection) complete() bool {
	if s.forceTick {
		return true
	}
	if len(s.topics) == 0 {
		return false
	}
	for _, t := range s.topics {
		if !t.done {
			return false
		}
	}
	return true
}

var _ browser.Page = (*fakeCourse)(nil)

func (c *fakeCourse) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sel.Kind == browser.XPath {
		var n int
		if _, err := fmt.Sscanf(sel.Expr, "topics-%d", &n); err != nil || n < 1 || n > len(c.sections) {
			return nil, nil
		}
		s := c.sections[n-1]
		if !s.open || s.opens < s.hiddenUntilOpens {
			return nil, nil
		}
		els := make([]browser.Element, 0, len(s.topics))
		for _, t := range s.topics {
			els = append(els, &fakeEl{c: c, kind: "topic", topic: t})
		}
		return els, nil
	}

	switch sel.Expr {
	case c.sel().Section:
		els := make([]browser.Element, 0, len(c.sections))
		for _, s := range c.sections {
			els = append(els, &fakeEl{c: c, kind: "section", section: s})
		}
		return els, nil
	case c.sel().Player:
		if c.current != nil && c.current.video != nil {
			return []browser.Element{&fakeEl{c: c, kind: "player"}}, nil
		}
	case c.sel().OuterFrame:
		if c.current != nil && c.current.video != nil {
			return []browser.Element{&fakeEl{c: c, kind: "outer"}}, nil
		}
	}
	return nil, nil
}

func (c *fakeCourse) URL(context.Context) (string, error) { return "https://lms.example/course/42", nil }

func (c *fakeCourse) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.reloads++
	c.current = nil
	for _, s := range c.sections {
		s.open = false
	}
	if c.onReload != nil {
		c.onReload(c)
	}
	return nil
}

func (c *fakeCourse) Detach() error {
	c.detached = true
	return nil
}

func (c *fakeCourse) CloseBrowser(context.Context) error {
	c.closed = true
	return nil
}

// fakeFrame is the document inside the outer (depth 1) or inner (depth 2) player frame.
type fakeFrame struct {
	c     *fakeCourse
	depth int
}

func (f *fakeFrame) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := f.c.current.video
	switch {
	case f.depth == 1 && sel.Expr == f.c.sel().InnerFrame && !v.missingPane:
		return []browser.Element{&fakeEl{c: f.c, kind: "inner"}}, nil
	case f.depth == 2 && sel.Expr == f.c.sel().Video:
		return []browser.Element{&fakeEl{c: f.c, kind: "video", topic: f.c.current}}, nil
	}
	return nil, nil
}

type fakeEl struct {
	c       *fakeCourse
	kind    string
	section *fakeSection
	topic   *fakeTopic
}

var _ browser.Element = (*fakeEl)(nil)

func (e *fakeEl) Query(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.kind != "section" {
		return nil, nil
	}
	switch sel.Expr {
	case e.c.sel().Arrow:
		return []browser.Element{&fakeEl{c: e.c, kind: "arrow", section: e.section}}, nil
	case e.c.sel().Tick:
		if e.section.complete() {
			return []browser.Element{&fakeEl{c: e.c, kind: "tick"}}, nil
		}
	}
	return nil, nil
}

func (e *fakeEl) Text(context.Context) (string, error) {
	switch e.kind {
	case "section":
		return e.section.title, nil
	case "topic":
		return e.topic.name, nil
	}
	return "", nil
}

func (e *fakeEl) Attribute(_ context.Context, name string) (string, bool, error) {
	if e.kind == "arrow" && name == "class" {
		if e.section.open {
			return "icon-DownArrow", true, nil
		}
		return "icon-DownArrow " + e.c.sel().CollapsedClass, true, nil
	}
	return "", false, nil
}

func (e *fakeEl) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch e.kind {
	case "section":
		e.section.clicks++
		e.section.open = !e.section.open
		if e.section.open {
			e.section.opens++
		}
	case "topic":
		if e.topic.clickErr != nil {
			return e.topic.clickErr
		}
		e.topic.clicks++
		e.c.current = e.topic
		if e.topic.doneOnClick {
			e.topic.done = true
		}
	}
	return nil
}

func (e *fakeEl) Call(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch e.kind {
	case "topic":
		if fn == parentHasJS {
			*res.(*bool) = e.topic.done
		}
		return nil
	case "video":
		return e.callVideo(fn, res, args)
	}
	return nil
}

func (e *fakeEl) callVideo(fn string, res interface{}, args []interface{}) error {
	v := e.topic.video
	switch fn {
	case spoofVisibilityJS:
		v.calls = append(v.calls, "spoof")
	case playJS:
		v.calls = append(v.calls, "play")
	case videoStateJS:
		v.calls = append(v.calls, "state")
		st := res.(*videoState)
		if v.readyAfter >= 0 && v.reads >= v.readyAfter {
			st.Ready = 1
		}
		v.reads++
		st.Src = v.src
		st.Error = v.errorCode
	case reloadSourceJS:
		v.calls = append(v.calls, "reload")
		v.src = args[0].(string)
	case mockDurationJS:
		v.calls = append(v.calls, "mock")
		v.mocked = true
		*res.(*bool) = true
	case endedJS:
		v.calls = append(v.calls, "ended")
		v.ended = true
		if !e.topic.stubborn {
			e.topic.done = true
		}
	default:
		if !strings.Contains(fn, "scrollIntoView") {
			return fmt.Errorf("unexpected script on video: %.30s", fn)
		}
	}
	return nil
}

func (e *fakeEl) ContentFrame(context.Context) (browser.Frame, error) {
	switch e.kind {
	case "outer":
		if e.c.current.video.outOfProcess {
			return nil, fmt.Errorf("%w: <iframe> content is out of process", browser.ErrUnsupported)
		}
		return &fakeFrame{c: e.c, depth: 1}, nil
	case "inner":
		return &fakeFrame{c: e.c, depth: 2}, nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrNotFrame, e.kind)
}

func videoTopic(name string) *fakeTopic {
	return &fakeTopic{name: name, video: &fakeVideo{src: "https://cdn.example/" + name + ".mp4"}}
}

func textTopic(name string) *fakeTopic {
	return &fakeTopic{name: name, doneOnClick: true}
}
