package gateway

import (
	"context"
	"time"

	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// Adapter delivers run digests to one platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, d *Digest) error
	Close() error
	Status() AdapterStatus
}

// AdapterStatus reports an adapter's connection state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// Digest summarizes one pipeline run for humans.
type Digest struct {
	RunID       string              `json:"run_id"`
	Source      string              `json:"source"`
	FinishedAt  time.Time           `json:"finished_at"`
	Open        int                 `json:"open"`
	Resolved    int                 `json:"resolved"`
	Matched     int                 `json:"matched"`
	Coverage    float64             `json:"coverage_percent"`
	Suggestions []ticket.Suggestion `json:"suggestions"` // strongest first
	Platforms   []string            `json:"platforms,omitempty"`
}
