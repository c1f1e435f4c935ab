// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/coursewatch/internal/browser"
	"github.com/xkilldash9x/coursewatch/internal/browser/drivers"
	"github.com/xkilldash9x/coursewatch/internal/config"
	"github.com/xkilldash9x/coursewatch/internal/course"
	"github.com/xkilldash9x/coursewatch/internal/observability"
)

// driverFactory builds a browser backend by name. Tests swap it out.
type driverFactory func(name string, opts browser.Options) (browser.Driver, error)

var newDriver driverFactory = drivers.New

// newWatchCmd creates and configures the `watch` command.
func newWatchCmd(v *viper.Viper) *cobra.Command {
	var (
		noVerify   bool
		reportPath string
		dryRun     bool
	)

	watchCmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"run"},
		Short:   "Walk the course in the attached tab and complete every pending video",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			if noVerify {
				cfg.SetVerificationEnabled(false)
			}
			cfg.SetRunConfig(config.RunConfig{ReportPath: reportPath, DryRun: dryRun})

			return runWatch(ctx, cfg, observability.Component("watch"), newDriver)
		},
	}

	flags := watchCmd.Flags()
	flags.Int("max-passes", v.GetInt("verification.max_passes"), "cap on verification passes (0 means no cap)")
	flags.BoolVar(&noVerify, "no-verify", false, "skip the verification passes")
	flags.StringVarP(&reportPath, "report", "o", "", "write a JSON run summary to this file")
	flags.BoolVar(&dryRun, "dry-run", false, "attach and list the outline without clicking anything")

	_ = v.BindPFlag("verification.max_passes", flags.Lookup("max-passes"))

	return watchCmd
}

// runWatch attaches to the browser and executes one full run.
func runWatch(ctx context.Context, cfg config.Interface, logger *zap.Logger, factory driverFactory) error {
	bcfg := cfg.Browser()
	driver, err := factory(bcfg.Driver, browser.Options{ActionTimeout: bcfg.ActionTimeout, Logger: logger})
	if err != nil {
		return err
	}

	logger.Info("Connecting to browser session...",
		zap.String("endpoint", bcfg.Endpoint),
		zap.String("driver", driver.Name()))

	page, target, err := browser.Attach(ctx, driver, browser.AttachOptions{
		Endpoint: bcfg.Endpoint,
		Match:    bcfg.TargetMatch,
		Timeout:  bcfg.AttachTimeout,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("connect to browser at %s: %w", bcfg.Endpoint, err)
	}
	logger.Info(fmt.Sprintf("Connected to Chrome session on %s...", bcfg.Endpoint),
		zap.String("target", target.ID),
		zap.String("title", target.Title),
		zap.String("url", target.URL))

	watcher := course.NewWatcher(page, cfg.Selectors(), cfg.Timing(), logger)
	walker := course.NewWalker(page, watcher, cfg, logger)
	runner := course.NewRunner(page, walker, cfg, course.RunInfo{
		Driver:   driver.Name(),
		Endpoint: bcfg.Endpoint,
		Target:   target.URL,
	}, logger)

	summary, runErr := runner.Run(ctx)

	if path := cfg.Run().ReportPath; path != "" {
		if err := course.WriteReport(path, summary); err != nil {
			logger.Error("Could not write run report.", zap.String("path", path), zap.Error(err))
			if runErr == nil {
				runErr = err
			}
		} else {
			logger.Info("Run report written.", zap.String("path", path))
		}
	}
	return runErr
}
