package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// AttachOptions controls how Attach picks and reaches a tab.
type AttachOptions struct {
	Endpoint string
	// Match selects the first page whose URL contains it.
	Match string
	// Timeout bounds the total retry time. Zero tries exactly once.
	Timeout time.Duration
	Logger  *zap.Logger
}

// SelectTarget picks the tab to drive: the first page whose URL contains
// match, else the first page that is not blank, else the first page. An
// unmatched pattern falls back like an empty one; see MatchesTarget.
func SelectTarget(targets []Target, match string) (Target, error) {
	var first, firstReal *Target
	for i := range targets {
		t := &targets[i]
		if !t.IsPage() {
			continue
		}
		if match != "" && strings.Contains(t.URL, match) {
			return *t, nil
		}
		if first == nil {
			first = t
		}
		if firstReal == nil && t.URL != "" && t.URL != "about:blank" && !strings.HasPrefix(t.URL, "chrome://") {
			firstReal = t
		}
	}
	switch {
	case firstReal != nil:
		return *firstReal, nil
	case first != nil:
		return *first, nil
	default:
		return Target{}, ErrNoPageTarget
	}
}

// MatchesTarget reports whether t was chosen by match rather than by the
// fallback order.
func MatchesTarget(t Target, match string) bool {
	return match == "" || strings.Contains(t.URL, match)
}

// Attach lists the endpoint's targets, selects one and attaches the driver
// to it, retrying with exponential backoff while the endpoint is not ready.
func Attach(ctx context.Context, d Driver, opts AttachOptions) (Page, Target, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		page   Page
		chosen Target
	)
	operation := func() error {
		targets, err := d.Targets(ctx, opts.Endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("list targets on %s: %w", opts.Endpoint, err)
		}
		t, err := SelectTarget(targets, opts.Match)
		if err != nil {
			return err
		}
		if !MatchesTarget(t, opts.Match) {
			logger.Warn("No tab matches the target filter, using the fallback tab.",
				zap.String("match", opts.Match),
				zap.String("url", t.URL))
		}
		p, err := d.Attach(ctx, opts.Endpoint, t)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("attach to target %s: %w", t.ID, err)
		}
		page, chosen = p, t
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = opts.Timeout
	var policy backoff.BackOff = b
	if opts.Timeout <= 0 {
		policy = &backoff.StopBackOff{}
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("Browser endpoint not ready, retrying.",
			zap.String("endpoint", opts.Endpoint),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, Target{}, err
	}
	return page, chosen, nil
}
