// File: cmd/probe.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/coursewatch/internal/browser"
	"github.com/xkilldash9x/coursewatch/internal/config"
	"github.com/xkilldash9x/coursewatch/internal/observability"
)

func newProbeCmd() *cobra.Command {
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "List the tabs of the browser behind the debugging endpoint",
		Long: `probe connects to the endpoint without attaching to any tab and prints
its targets. The tab watch would attach to is marked with '*'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), cfg, newDriver)
		},
	}

	return probeCmd
}

func runProbe(ctx context.Context, out io.Writer, cfg config.Interface, factory driverFactory) error {
	bcfg := cfg.Browser()
	driver, err := factory(bcfg.Driver, browser.Options{ActionTimeout: bcfg.ActionTimeout, Logger: observability.Component("probe")})
	if err != nil {
		return err
	}

	targets, err := driver.Targets(ctx, bcfg.Endpoint)
	if err != nil {
		return fmt.Errorf("probe %s: %w", bcfg.Endpoint, err)
	}

	chosen, selErr := browser.SelectTarget(targets, bcfg.TargetMatch)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTYPE\tTITLE\tURL")
	for _, t := range targets {
		mark := ""
		if selErr == nil && t.ID == chosen.ID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, t.ID, t.Type, t.Title, t.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case selErr != nil:
		fmt.Fprintf(out, "\nwatch would fail: %v\n", selErr)
	case !browser.MatchesTarget(chosen, bcfg.TargetMatch):
		fmt.Fprintf(out, "\nno tab matches %q; watch falls back to the marked tab\n", bcfg.TargetMatch)
	}
	return nil
}
