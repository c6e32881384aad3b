package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/corpus"
	"github.com/nidhogg/ticket-miner/internal/loader"
	"github.com/nidhogg/ticket-miner/internal/matcher"
	"github.com/nidhogg/ticket-miner/internal/report"
	"github.com/nidhogg/ticket-miner/internal/ticket"
	"github.com/nidhogg/ticket-miner/internal/vector"
)

var (
	// ErrNoInput means no ticket records could be loaded.
	ErrNoInput = errors.New("no ticket data could be loaded")
	// ErrEmptyKnowledgeBase means no resolved tickets were found.
	ErrEmptyKnowledgeBase = matcher.ErrEmptyKnowledgeBase
)

// Result is the outcome of one pipeline run.
type Result struct {
	RunID         string                    `json:"run_id"`
	Source        string                    `json:"source"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	Open          []ticket.NormalizedTicket `json:"open"`
	KnowledgeBase []ticket.ResolvedTicket   `json:"knowledge_base"`
	Suggestions   []ticket.Suggestion       `json:"suggestions"`
	Stats         report.Stats              `json:"stats"`
	Fit           vector.FitStats           `json:"fit"`

	// KB is the fitted knowledge base, kept for ad-hoc matching.
	KB *matcher.KnowledgeBase `json:"-"`
}

// Sink receives completed runs.
type Sink interface {
	Name() string
	Publish(ctx context.Context, res *Result) error
}

// Pipeline wires the splitter, vector index and matcher together.
type Pipeline struct {
	splitter *corpus.Splitter
	vecOpts  vector.Options
	matcher  *matcher.Matcher
	sinks    []Sink
	logger   *zap.Logger
}

// New creates a Pipeline.
func New(splitter *corpus.Splitter, vecOpts vector.Options, m *matcher.Matcher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		splitter: splitter,
		vecOpts:  vecOpts,
		matcher:  m,
		logger:   logger,
	}
}

// AddSink registers a destination for completed runs.
func (p *Pipeline) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
	p.logger.Info("registered result sink", zap.String("sink", s.Name()))
}

// Splitter returns the splitter used to normalize tickets.
func (p *Pipeline) Splitter() *corpus.Splitter { return p.splitter }

// Matcher returns the matcher used for runs.
func (p *Pipeline) Matcher() *matcher.Matcher { return p.matcher }

// RunFile loads a Jira export and runs the pipeline on it.
func (p *Pipeline) RunFile(ctx context.Context, path string) (*Result, error) {
	p.logger.Info("loading tickets", zap.String("path", path))
	records, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInput, err)
	}
	p.logger.Info("tickets loaded", zap.Int("count", len(records)))
	return p.Run(ctx, path, records)
}

// Run splits, fits and matches records, then hands the result to every
// sink. Sink failures are logged and do not fail the run.
func (p *Pipeline) Run(ctx context.Context, source string, records []ticket.Ticket) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrNoInput
	}
	res := &Result{
		RunID:     uuid.New().String(),
		Source:    source,
		StartedAt: time.Now(),
	}
	logger := p.logger.With(zap.String("run", res.RunID))

	open, resolved := p.splitter.Split(records)
	logger.Info("tickets processed",
		zap.Int("open", len(open)),
		zap.Int("resolved", len(resolved)))

	kb, vz, err := matcher.BuildKnowledgeBase(resolved, p.vecOpts)
	if err != nil {
		return nil, err
	}
	res.Fit = vz.Stats()
	logger.Info("vector space fitted",
		zap.Int("documents", res.Fit.Documents),
		zap.Int("vocabulary", res.Fit.Vocabulary),
		zap.Int("pruned", res.Fit.Pruned),
		zap.Bool("unpruned_fallback", res.Fit.Unpruned))

	suggestions, err := p.matcher.FindMatches(ctx, open, kb)
	if err != nil {
		return nil, fmt.Errorf("find matches: %w", err)
	}

	res.Open = open
	res.KnowledgeBase = resolved
	res.Suggestions = suggestions
	res.KB = kb
	res.Stats = report.Compute(open, resolved, suggestions)
	res.FinishedAt = time.Now()

	logger.Info("run complete",
		zap.Int("suggested", res.Stats.Matched),
		zap.Float64("coverage", res.Stats.Coverage),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))

	p.publish(ctx, res)
	return res, nil
}

func (p *Pipeline) publish(ctx context.Context, res *Result) {
	for _, s := range p.sinks {
		if err := s.Publish(ctx, res); err != nil {
			p.logger.Warn("sink publish failed",
				zap.String("sink", s.Name()),
				zap.String("run", res.RunID),
				zap.Error(err))
		}
	}
}

// IsPrecondition reports whether err means the input cannot support a run,
// as opposed to an internal failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNoInput) ||
		errors.Is(err, ErrEmptyKnowledgeBase) ||
		errors.Is(err, vector.ErrEmptyVocabulary)
}

// Describe returns the user-facing message for a precondition failure.
func Describe(err error) string {
	switch {
	case errors.Is(err, ErrNoInput):
		return "pipeline stopped: ticket data could not be loaded"
	case errors.Is(err, ErrEmptyKnowledgeBase):
		return "pipeline stopped: no knowledge base (no resolved tickets found)"
	case errors.Is(err, vector.ErrEmptyVocabulary):
		return "pipeline stopped: resolved tickets contain no indexable text"
	default:
		return "pipeline failed"
	}
}
