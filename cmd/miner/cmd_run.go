package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/config"
	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/report"
)

var runFlags struct {
	input     string
	report    string
	threshold float64
	workers   int
	offline   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load tickets, match open ones and write the report",
	Long: `Runs the pipeline once: load the Jira export, split open and resolved
tickets, fit the knowledge base, suggest a resolved ticket for every open one,
write the HTML report and publish the run to the configured backends.

Exits non-zero when no ticket data could be loaded or no resolved ticket
exists to build the knowledge base from.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.input, "input", "i", "", "Jira export to read (overrides input.path)")
	f.StringVarP(&runFlags.report, "report", "o", "", "HTML report to write (overrides report.path)")
	f.Float64Var(&runFlags.threshold, "threshold", 0, "Minimum similarity for a suggestion (overrides engine.threshold)")
	f.IntVar(&runFlags.workers, "workers", 0, "Matching workers (overrides engine.workers)")
	f.BoolVar(&runFlags.offline, "offline", false, "Skip PostgreSQL, Neo4j, Redis and chat delivery")
}

// applyRunFlags overlays explicitly set flags on the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("input") {
		cfg.Input.Path = runFlags.input
	}
	if f.Changed("report") {
		cfg.Report.Path = runFlags.report
	}
	if f.Changed("threshold") {
		cfg.Engine.Threshold = runFlags.threshold
	}
	if f.Changed("workers") {
		cfg.Engine.Workers = runFlags.workers
	}
	return cfg.Validate()
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, logger, !runFlags.offline)
	if err != nil {
		return err
	}
	defer a.Close()
	a.enableNotifier()

	res, err := a.pipeline.RunFile(cmd.Context(), cfg.Input.Path)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return fmt.Errorf("%s: %w", pipeline.Describe(err), err)
	}

	report.WriteTable(cmd.OutOrStdout(), res.Stats, res.Suggestions, cfg.Report.Options)
	if cfg.Report.Path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nReport: %s\n", cfg.Report.Path)
	}
	return nil
}
