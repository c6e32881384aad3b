package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/ticket-miner/internal/ticket"
	"github.com/nidhogg/ticket-miner/internal/vector"
)

// Options tunes the matcher.
type Options struct {
	// Threshold is the similarity a candidate must strictly exceed.
	Threshold float64 `json:"threshold"`
	// Workers bounds parallel matching; values below 2 match sequentially.
	Workers int `json:"workers"`
}

// DefaultOptions returns threshold 0.1 and sequential matching.
func DefaultOptions() Options {
	return Options{Threshold: 0.1, Workers: 1}
}

// Matcher finds the best prior resolution for open tickets.
type Matcher struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Matcher.
func New(opts Options, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{opts: opts, logger: logger}
}

// Accept reports whether score clears the threshold.
func (m *Matcher) Accept(score float64) bool {
	return score > m.opts.Threshold
}

// FindMatches returns one suggestion per open ticket, in input order.
// Per-ticket problems degrade that ticket to no match; only misuse of the
// vector space (vector.ErrNotFitted) or cancellation abort the batch.
func (m *Matcher) FindMatches(ctx context.Context, open []ticket.NormalizedTicket, kb *KnowledgeBase) ([]ticket.Suggestion, error) {
	if kb == nil || kb.Space == nil {
		return nil, fmt.Errorf("find matches: %w", vector.ErrNotFitted)
	}
	start := time.Now()
	out := make([]ticket.Suggestion, len(open))

	if m.opts.Workers < 2 {
		for i, t := range open {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s, err := m.MatchOne(ctx, kb, t)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.opts.Workers)
		for i, t := range open {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				s, err := m.MatchOne(gctx, kb, t)
				if err != nil {
					return err
				}
				out[i] = s
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	batchLatency.Observe(elapsed.Seconds())

	matched := 0
	for _, s := range out {
		if s.Matched() {
			matched++
		}
	}
	m.logger.Info("matching complete",
		zap.Int("open", len(open)),
		zap.Int("knowledge_base", len(kb.Tickets)),
		zap.Int("matched", matched),
		zap.Int("workers", m.opts.Workers),
		zap.Duration("duration", elapsed))
	return out, nil
}

// MatchOne runs the category filter, similarity scoring and threshold for a
// single open ticket.
func (m *Matcher) MatchOne(_ context.Context, kb *KnowledgeBase, t ticket.NormalizedTicket) (s ticket.Suggestion, err error) {
	s = ticket.NoMatch(t)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("ticket match failed, degrading to no match",
				zap.String("key", t.Key), zap.Any("panic", r))
			matchOutcomes.WithLabelValues(OutcomeDegraded).Inc()
			s, err = ticket.NoMatch(t), nil
		}
	}()

	if len(t.Categories) == 0 {
		m.logger.Warn("ticket has no categories, skipping", zap.String("key", t.Key))
		matchOutcomes.WithLabelValues(OutcomeDegraded).Inc()
		return s, nil
	}

	candidates := kb.Candidates(t.Categories)
	candidateCount.Observe(float64(len(candidates)))
	if len(candidates) == 0 {
		matchOutcomes.WithLabelValues(OutcomeNoCandidates).Inc()
		return s, nil
	}

	query, err := kb.Space.Transform(t.CleanText)
	if err != nil {
		return m.spaceError(t, err)
	}

	best, bestScore := -1, 0.0
	for _, idx := range candidates {
		doc, err := kb.Space.Document(idx)
		if err != nil {
			return m.spaceError(t, err)
		}
		score := vector.Dot(query, doc)
		if best < 0 || score > bestScore {
			best, bestScore = idx, score
		}
	}
	bestSimilarity.Observe(bestScore)

	if !m.Accept(bestScore) {
		matchOutcomes.WithLabelValues(OutcomeBelowThreshold).Inc()
		m.logger.Debug("best candidate below threshold",
			zap.String("key", t.Key),
			zap.String("candidate", kb.Tickets[best].Key),
			zap.Float64("similarity", bestScore))
		return s, nil
	}

	winner := kb.Tickets[best]
	key, solution := winner.Key, winner.Solution
	s.SuggestedKey = &key
	s.SuggestedSolution = &solution
	s.Similarity = bestScore
	matchOutcomes.WithLabelValues(OutcomeMatched).Inc()
	m.logger.Debug("ticket matched",
		zap.String("key", t.Key),
		zap.String("suggested", key),
		zap.Int("candidates", len(candidates)),
		zap.Float64("similarity", bestScore))
	return s, nil
}

func (m *Matcher) spaceError(t ticket.NormalizedTicket, err error) (ticket.Suggestion, error) {
	if errors.Is(err, vector.ErrNotFitted) {
		return ticket.Suggestion{}, fmt.Errorf("match %s: %w", t.Key, err)
	}
	m.logger.Warn("vector lookup failed, degrading to no match",
		zap.String("key", t.Key), zap.Error(err))
	matchOutcomes.WithLabelValues(OutcomeDegraded).Inc()
	return ticket.NoMatch(t), nil
}
