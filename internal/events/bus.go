package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// DefaultStream is the stream suggestions are published to.
const DefaultStream = "miner:suggestions"

// Event types.
const (
	TypeSuggestion   = "suggestion"
	TypeRunCompleted = "run.completed"
)

// Event is one entry on the suggestions stream.
type Event struct {
	ID         string             `json:"-"` // stream entry ID, set on receive
	Type       string             `json:"type"`
	RunID      string             `json:"run_id"`
	Suggestion *ticket.Suggestion `json:"suggestion,omitempty"`
	Matched    int                `json:"matched,omitempty"`
	Open       int                `json:"open,omitempty"`
	Coverage   float64            `json:"coverage_percent,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// String renders the event as one line for terminals.
func (e *Event) String() string {
	switch {
	case e.Type == TypeRunCompleted:
		return fmt.Sprintf("%s %s run=%s matched=%d/%d coverage=%.2f%%",
			e.ID, e.Type, e.RunID, e.Matched, e.Open, e.Coverage)
	case e.Suggestion != nil && e.Suggestion.Matched():
		return fmt.Sprintf("%s %s run=%s %s -> %s (%.2f)",
			e.ID, e.Type, e.RunID, e.Suggestion.OpenKey, *e.Suggestion.SuggestedKey, e.Suggestion.Similarity)
	case e.Suggestion != nil:
		return fmt.Sprintf("%s %s run=%s %s -> no match", e.ID, e.Type, e.RunID, e.Suggestion.OpenKey)
	default:
		return fmt.Sprintf("%s %s run=%s", e.ID, e.Type, e.RunID)
	}
}

// Bus publishes run outputs on a Redis Stream.
type Bus struct {
	rdb        *redis.Client
	stream     string
	maxLen     int64
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewBus creates a Redis-backed event bus.
func NewBus(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Bus{rdb: rdb, stream: stream, maxLen: 10000, retryDelay: time.Second, logger: logger}, nil
}

// Stream returns the stream name.
func (b *Bus) Stream() string { return b.stream }

// PublishRun appends one event per suggestion followed by a
// run.completed event, in a single round trip.
func (b *Bus) PublishRun(ctx context.Context, res *pipeline.Result) error {
	now := time.Now().UTC()
	events := make([]*Event, 0, len(res.Suggestions)+1)
	for i := range res.Suggestions {
		events = append(events, &Event{
			Type:       TypeSuggestion,
			RunID:      res.RunID,
			Suggestion: &res.Suggestions[i],
			Timestamp:  now,
		})
	}
	events = append(events, &Event{
		Type:      TypeRunCompleted,
		RunID:     res.RunID,
		Matched:   res.Stats.Matched,
		Open:      res.Stats.Open,
		Coverage:  res.Stats.Coverage,
		Timestamp: now,
	})

	pipe := b.rdb.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: b.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"type": ev.Type,
				"data": string(data),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}

	b.logger.Debug("published run events",
		zap.String("run", res.RunID),
		zap.Int("events", len(events)))
	return nil
}

// Subscribe listens for events appended after fromID ("$" for new
// entries only, "0" for the whole stream). Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context, fromID string) <-chan *Event {
	ch := make(chan *Event, 16)
	if fromID == "" {
		fromID = "$"
	}

	go func() {
		defer close(ch)
		lastID := fromID

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				b.logger.Warn("stream read failed", zap.String("stream", b.stream), zap.Error(err))
				select {
				case <-time.After(b.retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					ev.ID = msg.ID
					select {
					case ch <- &ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Sink adapts a Bus to pipeline.Sink.
type Sink struct {
	bus *Bus
}

// NewSink wraps b as a pipeline sink.
func NewSink(b *Bus) *Sink { return &Sink{bus: b} }

func (k *Sink) Name() string { return "redis" }

func (k *Sink) Publish(ctx context.Context, res *pipeline.Result) error {
	return k.bus.PublishRun(ctx, res)
}
