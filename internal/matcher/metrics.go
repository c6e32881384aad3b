package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Match outcomes, used as the "outcome" metric label.
const (
	OutcomeMatched        = "matched"
	OutcomeNoCandidates   = "no_candidates"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeDegraded       = "degraded"
)

var (
	matchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miner",
		Subsystem: "matcher",
		Name:      "tickets_total",
		Help:      "Open tickets processed by match outcome",
	}, []string{"outcome"})

	candidateCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "miner",
		Subsystem: "matcher",
		Name:      "candidates",
		Help:      "Knowledge base entries left after the category filter",
		Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	bestSimilarity = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "miner",
		Subsystem: "matcher",
		Name:      "best_similarity",
		Help:      "Best cosine similarity among candidates",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1.0},
	})

	batchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "miner",
		Subsystem: "matcher",
		Name:      "batch_seconds",
		Help:      "FindMatches latency",
		Buckets:   prometheus.DefBuckets,
	})
)
