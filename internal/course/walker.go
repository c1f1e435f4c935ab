// internal/course/walker.go
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

// parentHasJS reports whether the element's parent contains a match for the selector.
const parentHasJS = `function(sel) {
	const p = this.parentElement;
	return !!(p && p.querySelector(sel));
}`

const topicErrorWidth = 50

var errTopicsShrank = errors.New("topic list shrank")

// Walker traverses the course outline once per pass.
type Walker struct {
	page    browser.Page
	watcher VideoWatcher
	sel     config.SelectorsConfig
	timing  config.TimingConfig
	course  config.CourseConfig
	logger  *zap.Logger
}

// NewWalker creates a walker over page. Every element handle it uses is
// re-queried right before use.
func NewWalker(page browser.Page, watcher VideoWatcher, cfg config.Interface, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		page:    page,
		watcher: watcher,
		sel:     cfg.Selectors(),
		timing:  cfg.Timing(),
		course:  cfg.Course(),
		logger:  logger.Named("walker"),
	}
}

func passName(verification bool) string {
	if verification {
		return "VERIFICATION PASS"
	}
	return "MAIN PASS"
}

// RunPass walks every section once. Only context cancellation and a failure
// to list the sections end the pass early; everything else is logged.
func (w *Walker) RunPass(ctx context.Context, verification bool) (PassResult, error) {
	start := time.Now()
	res := PassResult{Name: passName(verification), Verification: verification}
	w.logger.Info(fmt.Sprintf("========== STARTING %s ==========", res.Name))

	sections, err := w.sections(ctx)
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("list sections: %w", err)
	}
	res.Sections = len(sections)
	w.logger.Info(fmt.Sprintf("Found %d course sections.", len(sections)))

	for i := range sections {
		if err := w.walkSection(ctx, i, verification, &res); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
	}

	res.Duration = time.Since(start)
	w.logger.Info("Pass finished.",
		zap.String("pass", res.Name),
		zap.Int("attempted", res.Attempted),
		zap.Int("watched", res.Watched),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (w *Walker) sections(ctx context.Context) ([]browser.Element, error) {
	return w.page.Query(ctx, browser.ByCSS(w.sel.Section))
}

func (w *Walker) topicsSelector(i int) browser.Selector {
	return browser.ByXPath(fmt.Sprintf(w.sel.TopicsXPath, i+1))
}

func (w *Walker) hasTick(ctx context.Context, el browser.Element) bool {
	ok, err := browser.Exists(ctx, el, browser.ByCSS(w.sel.Tick))
	return err == nil && ok
}

func (w *Walker) skipTitle(title string) bool {
	for _, p := range w.course.SkipPatterns {
		if p != "" && strings.Contains(title, p) {
			return true
		}
	}
	return false
}

// isCollapsed reports whether the section's arrow carries the collapsed class.
func (w *Walker) isCollapsed(ctx context.Context, section browser.Element) (bool, error) {
	arrows, err := section.Query(ctx, browser.ByCSS(w.sel.Arrow))
	if err != nil {
		return false, err
	}
	if len(arrows) == 0 {
		return false, fmt.Errorf("section has no %s", w.sel.Arrow)
	}
	return browser.ClassContains(ctx, arrows[0], w.sel.CollapsedClass)
}

func (w *Walker) click(ctx context.Context, el browser.Element) error {
	if err := browser.ScrollIntoView(ctx, el); err != nil {
		return err
	}
	return el.Click(ctx)
}

// toggle closes then reopens a section.
func (w *Walker) toggle(ctx context.Context, section browser.Element) error {
	if err := w.click(ctx, section); err != nil {
		return err
	}
	if err := browser.Pause(ctx, w.timing.ClickPause); err != nil {
		return err
	}
	return section.Click(ctx)
}

func (w *Walker) walkSection(ctx context.Context, i int, verification bool, res *PassResult) error {
	log := w.logger.With(zap.Int("section", i+1))

	for attempt := 0; attempt < w.course.MaxSectionRetries; attempt++ {
		sections, err := w.sections(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("[Section Error] Could not list sections.", zap.Error(err))
			continue
		}
		if i >= len(sections) {
			log.Info(fmt.Sprintf("--- Section %d: No longer present after refresh. Skipping. ---", i+1))
			return nil
		}
		section := sections[i]

		if w.hasTick(ctx, section) {
			if !verification {
				log.Info(fmt.Sprintf("--- Section %d: Already Fully Complete. Skipping. ---", i+1))
			}
			return nil
		}
		title, _ := section.Text(ctx)
		if w.skipTitle(title) {
			log.Info(fmt.Sprintf("--- Section %d: Skipped (Final Assessment/Quiz) ---", i+1), zap.String("title", title))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.closeOthers(ctx, sections, i); err != nil {
			return err
		}
		if refreshed, err := w.sections(ctx); err == nil && i < len(refreshed) {
			section = refreshed[i]
		}

		if err := w.open(ctx, section); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug("Could not open section.", zap.Error(err))
		}

		if err := w.walkTopics(ctx, i, section, verification, res); err != nil {
			return err
		}

		if err := w.closeSection(ctx, i); err != nil {
			return err
		}

		if done, err := w.sectionDone(ctx, i); err != nil {
			return err
		} else if done {
			return nil
		}

		log.Warn("[Warn] Section tick missing. Reloading page and retrying videos...", zap.Int("attempt", attempt+1))
		if err := w.page.Reload(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("[Section Error] Reload failed.", zap.Error(err))
		} else {
			res.Reloads++
			if url, err := w.page.URL(ctx); err == nil {
				log.Info("Page reloaded.", zap.String("url", url))
			}
		}
		if err := browser.Pause(ctx, w.timing.ReloadPause); err != nil {
			return err
		}
	}

	log.Warn(fmt.Sprintf("[Warn] Section %d still incomplete after %d attempts.", i+1, w.course.MaxSectionRetries))
	return nil
}

// closeOthers collapses every open section except the i-th. Failures on a
// single section are ignored.
func (w *Walker) closeOthers(ctx context.Context, sections []browser.Element, i int) error {
	for k, other := range sections {
		if k == i {
			continue
		}
		collapsed, err := w.isCollapsed(ctx, other)
		if err != nil || collapsed {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		w.logger.Debug("Closing expanded section.", zap.Int("other", k+1))
		if err := w.click(ctx, other); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := browser.Pause(ctx, w.timing.ClickPause); err != nil {
			return err
		}
	}
	return nil
}

// open expands the section, or closes and reopens it when already expanded
// so the topic list is rendered fresh.
func (w *Walker) open(ctx context.Context, section browser.Element) error {
	collapsed, err := w.isCollapsed(ctx, section)
	if err != nil {
		return err
	}
	if err := browser.ScrollIntoView(ctx, section); err != nil {
		return err
	}
	if collapsed {
		err = section.Click(ctx)
	} else {
		err = w.toggle(ctx, section)
	}
	if err != nil {
		return err
	}
	return browser.Pause(ctx, w.timing.SectionPause)
}

func (w *Walker) walkTopics(ctx context.Context, i int, section browser.Element, verification bool, res *PassResult) error {
	sel := w.topicsSelector(i)
	topics, err := w.page.Query(ctx, sel)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err != nil || len(topics) == 0 {
		w.logger.Info("  [Retry] Found 0 topics. Refreshing section...", zap.Int("section", i+1))
		if err := browser.Pause(ctx, w.timing.RetryPause); err != nil {
			return err
		}
		if err := w.toggle(ctx, section); err == nil {
			if err := browser.Pause(ctx, w.timing.LoadPause); err != nil {
				return err
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		topics, _ = w.page.Query(ctx, sel)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	total := len(topics)
	w.logger.Info(fmt.Sprintf("--- Section %d: Processing %d Topics ---", i+1, total))

	for j := 0; j < total; j++ {
		err := w.walkTopic(ctx, sel, j, verification, res)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errTopicsShrank) {
			w.logger.Warn("    [Warn] Topic list shrank unexpectedly. Moving to next section.")
			return nil
		}
		if err != nil {
			res.Failed++
			w.logger.Warn(fmt.Sprintf("  [Error Topic %d]: %s... Continuing.", j+1, truncate(err.Error(), topicErrorWidth)))
		}
	}
	return nil
}

func (w *Walker) walkTopic(ctx context.Context, sel browser.Selector, j int, verification bool, res *PassResult) error {
	topics, err := w.page.Query(ctx, sel)
	if err != nil {
		return err
	}
	if j >= len(topics) {
		return errTopicsShrank
	}
	topic := topics[j]

	var done bool
	if err := topic.Call(ctx, parentHasJS, &done, w.sel.Tick); err == nil && done {
		res.Skipped++
		if !verification {
			w.logger.Info(fmt.Sprintf("  > Topic %d: Already Completed.", j+1))
		}
		return nil
	}

	if err := browser.ScrollIntoView(ctx, topic); err != nil {
		return err
	}
	if err := browser.Pause(ctx, w.timing.ClickPause); err != nil {
		return err
	}
	if err := topic.Click(ctx); err != nil {
		return err
	}

	w.logger.Info(fmt.Sprintf("  > Topic %d: Loading...", j+1))
	if err := browser.Pause(ctx, w.timing.LoadPause); err != nil {
		return err
	}

	watched, err := w.watcher.Watch(ctx)
	res.Attempted++
	switch {
	case watched:
		res.Watched++
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil && !errors.Is(err, ErrNoPlayer):
		// Already logged by the watcher.
		res.Failed++
	}

	return browser.Pause(ctx, w.timing.ClickPause)
}

func (w *Walker) closeSection(ctx context.Context, i int) error {
	sections, err := w.sections(ctx)
	if err != nil || i >= len(sections) {
		return ctx.Err()
	}
	if err := w.click(ctx, sections[i]); err != nil {
		return ctx.Err()
	}
	return browser.Pause(ctx, w.timing.ClickPause)
}

func (w *Walker) sectionDone(ctx context.Context, i int) (bool, error) {
	sections, err := w.sections(ctx)
	if err != nil {
		return false, ctx.Err()
	}
	return i < len(sections) && w.hasTick(ctx, sections[i]), ctx.Err()
}

// Survey lists the outline without clicking anything.
func (w *Walker) Survey(ctx context.Context) ([]SectionInfo, error) {
	sections, err := w.sections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}

	infos := make([]SectionInfo, 0, len(sections))
	for i, section := range sections {
		title, _ := section.Text(ctx)
		info := SectionInfo{
			Index:    i + 1,
			Title:    title,
			Complete: w.hasTick(ctx, section),
			Skipped:  w.skipTitle(title),
		}
		if topics, err := w.page.Query(ctx, w.topicsSelector(i)); err == nil {
			info.Topics = len(topics)
		}
		if err := ctx.Err(); err != nil {
			return infos, err
		}
		w.logger.Info("Outline section.",
			zap.Int("section", info.Index),
			zap.String("title", info.Title),
			zap.Bool("complete", info.Complete),
			zap.Bool("skipped", info.Skipped),
			zap.Int("topics_rendered", info.Topics))
		infos = append(infos, info)
	}
	return infos, nil
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
