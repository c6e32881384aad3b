package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/pipeline"
)

// Sink adapts a Store to pipeline.Sink.
type Sink struct {
	store *Store
}

// NewSink wraps s as a pipeline sink.
func NewSink(s *Store) *Sink { return &Sink{store: s} }

func (k *Sink) Name() string { return "postgres" }

// Publish persists the run.
func (k *Sink) Publish(ctx context.Context, res *pipeline.Result) error {
	if err := k.store.SaveRun(ctx, res); err != nil {
		return err
	}
	k.store.logger.Info("run persisted",
		zap.String("run", res.RunID),
		zap.Int("suggestions", len(res.Suggestions)))
	return nil
}
