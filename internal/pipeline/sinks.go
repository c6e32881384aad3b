package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/report"
)

// ReportSink writes the HTML report of each run to a file.
type ReportSink struct {
	path   string
	opts   report.Options
	logger *zap.Logger
}

// NewReportSink creates a ReportSink writing to path.
func NewReportSink(path string, opts report.Options, logger *zap.Logger) *ReportSink {
	return &ReportSink{path: path, opts: opts, logger: logger}
}

func (s *ReportSink) Name() string { return "report" }

// Publish renders and saves the report.
func (s *ReportSink) Publish(_ context.Context, res *Result) error {
	if err := report.Save(s.path, res.RunID, res.FinishedAt, res.Stats, res.Suggestions, s.opts); err != nil {
		return err
	}
	s.logger.Info("report written", zap.String("path", s.path))
	return nil
}
