// internal/course/runner.go
package course

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/coursewatch/internal/browser"
	"github.com/xkilldash9x/coursewatch/internal/config"
)

// Passer is the part of the walker the runner drives.
type Passer interface {
	RunPass(ctx context.Context, verification bool) (PassResult, error)
	Survey(ctx context.Context) ([]SectionInfo, error)
}

// RunInfo identifies the connection a run is made over.
type RunInfo struct {
	Driver   string
	Endpoint string
	Target   string
}

// Runner sequences the main pass and the verification passes over one page.
type Runner struct {
	page          browser.Page
	walker        Passer
	verification  config.VerificationConfig
	closeOnFinish bool
	dryRun        bool
	info          RunInfo
	logger        *zap.Logger
	now           func() time.Time
}

// NewRunner creates a runner. It takes ownership of page and detaches from
// it when Run returns.
func NewRunner(page browser.Page, walker Passer, cfg config.Interface, info RunInfo, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		page:          page,
		walker:        walker,
		verification:  cfg.Verification(),
		closeOnFinish: cfg.Browser().CloseOnFinish,
		dryRun:        cfg.Run().DryRun,
		info:          info,
		logger:        logger.Named("runner"),
		now:           time.Now,
	}
}

// Run executes the whole run and always returns the summary collected so far.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     uuid.NewString(),
		Driver:    r.info.Driver,
		Endpoint:  r.info.Endpoint,
		Target:    r.info.Target,
		DryRun:    r.dryRun,
		StartedAt: r.now(),
	}
	log := r.logger.With(zap.String("run_id", summary.RunID))
	defer func() {
		if err := r.page.Detach(); err != nil {
			log.Warn("Detach failed.", zap.Error(err))
		}
	}()

	var err error
	if r.dryRun {
		summary.Outline, err = r.walker.Survey(ctx)
	} else {
		err = r.passes(ctx, &summary, log)
	}
	summary.FinishedAt = r.now()

	switch {
	case err == nil:
		log.Info("--- ALL DONE ---",
			zap.Int("passes", len(summary.Passes)),
			zap.Int("attempted", summary.Attempted),
			zap.Int("watched", summary.Watched))
		if r.closeOnFinish && !r.dryRun {
			if cerr := r.page.CloseBrowser(ctx); cerr != nil {
				log.Warn("Could not close the browser.", zap.Error(cerr))
			}
		}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		log.Info("[Stopped] User stopped the run.")
		summary.Error = err.Error()
	default:
		log.Error("[CRITICAL FAILURE] Run stopped.", zap.Error(err))
		summary.Error = err.Error()
	}
	return summary, err
}

func (r *Runner) passes(ctx context.Context, summary *Summary, log *zap.Logger) error {
	res, err := r.walker.RunPass(ctx, false)
	summary.add(res)
	if err != nil {
		return fmt.Errorf("main pass: %w", err)
	}
	if !r.verification.Enabled {
		return nil
	}

	log.Info(">>> MAIN PASS COMPLETE. STARTING FIRST VERIFICATION ROUND <<<")
	for n := 1; ; n++ {
		if err := browser.Pause(ctx, r.verification.Delay); err != nil {
			return err
		}
		res, err := r.walker.RunPass(ctx, true)
		summary.add(res)
		if err != nil {
			return fmt.Errorf("verification pass %d: %w", n, err)
		}
		if res.Attempted == 0 {
			return nil
		}
		if r.verification.MaxPasses > 0 && n >= r.verification.MaxPasses {
			log.Warn("Verification pass limit reached with topics still pending.",
				zap.Int("max_passes", r.verification.MaxPasses),
				zap.Int("last_attempted", res.Attempted))
			return nil
		}
		log.Info(">>> PREVIOUS ROUND INCOMPLETE. STARTING ANOTHER VERIFICATION ROUND <<<")
	}
}
