package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/pipeline"
)

// DeliveryRecord tracks a delivered digest for history.
type DeliveryRecord struct {
	RunID   string    `json:"run_id"`
	Title   string    `json:"title"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
	Error   string    `json:"error,omitempty"`
}

// maxDeliveryHistory is how many delivery records a Notifier retains.
const maxDeliveryHistory = 100

// Notifier turns completed runs into digests and broadcasts them
// through the Gateway. It implements pipeline.Sink.
type Notifier struct {
	gateway *Gateway
	limit   int
	keep    int
	history []DeliveryRecord
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewNotifier creates a notifier sending at most limit suggestions per digest.
func NewNotifier(gw *Gateway, limit int, logger *zap.Logger) *Notifier {
	return &Notifier{
		gateway: gw,
		limit:   limit,
		keep:    maxDeliveryHistory,
		logger:  logger,
	}
}

func (n *Notifier) Name() string { return "gateway" }

// Publish broadcasts the run digest to every registered platform.
func (n *Notifier) Publish(ctx context.Context, res *pipeline.Result) error {
	d := BuildDigest(res, n.limit)

	n.logger.Info("sending run digest",
		zap.String("run", d.RunID),
		zap.Int("suggestions", len(d.Suggestions)),
		zap.Strings("platforms", n.gateway.Adapters()),
	)

	err := n.gateway.Broadcast(ctx, d)

	rec := DeliveryRecord{
		RunID:   d.RunID,
		Title:   d.Title(),
		SentAt:  time.Now(),
		Targets: n.gateway.Adapters(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	n.mu.Lock()
	n.history = append(n.history, rec)
	if len(n.history) > n.keep {
		n.history = n.history[len(n.history)-n.keep:]
	}
	n.mu.Unlock()
	return err
}

// History returns up to limit of the most recent delivery records, oldest
// first. A limit of zero or less returns all retained records.
func (n *Notifier) History(limit int) []DeliveryRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	start := len(n.history) - limit
	out := make([]DeliveryRecord, limit)
	copy(out, n.history[start:])
	return out
}
