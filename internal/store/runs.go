package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunRow is the persisted summary of one pipeline run.
type RunRow struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	TotalTickets int       `json:"total_tickets"`
	Open         int       `json:"open"`
	Resolved     int       `json:"resolved"`
	Matched      int       `json:"matched"`
	Coverage     float64   `json:"coverage_percent"`
	Vocabulary   int       `json:"vocabulary"`
}

// SaveRun stores a run summary and its suggestions in one transaction.
// Saving the same run twice replaces its suggestions.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Result) error {
	id, err := uuid.Parse(res.RunID)
	if err != nil {
		return fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save run %s: begin: %w", res.RunID, err)
	}
	defer tx.Rollback(ctx)

	st := res.Stats
	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, source, started_at, finished_at, total_tickets, open_tickets, resolved, matched, coverage, vocabulary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			matched = EXCLUDED.matched,
			coverage = EXCLUDED.coverage`,
		id, res.Source, res.StartedAt, res.FinishedAt,
		st.TotalTickets, st.Open, st.Resolved, st.Matched, st.Coverage, res.Fit.Vocabulary,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", res.RunID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM suggestions WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("save run %s: clear suggestions: %w", res.RunID, err)
	}

	rows := make([][]any, len(res.Suggestions))
	for i, sug := range res.Suggestions {
		rows[i] = []any{
			id, int32(i), sug.OpenKey, sug.OpenSummary, sug.Categories,
			sug.SuggestedKey, sug.SuggestedSolution, sug.Similarity,
		}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"suggestions"},
		[]string{"run_id", "position", "open_key", "open_summary", "categories", "suggested_key", "suggested_solution", "similarity"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("save run %s: copy suggestions: %w", res.RunID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save run %s: commit: %w", res.RunID, err)
	}
	return nil
}

const runColumns = `id::text, source, started_at, finished_at, total_tickets, open_tickets, resolved, matched, coverage, vocabulary`

func scanRun(row pgx.Row) (*RunRow, error) {
	var r RunRow
	err := row.Scan(&r.ID, &r.Source, &r.StartedAt, &r.FinishedAt,
		&r.TotalTickets, &r.Open, &r.Resolved, &r.Matched, &r.Coverage, &r.Vocabulary)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun retrieves a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRow, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	r, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Suggestions returns the suggestions of a run in open-ticket order.
func (s *Store) Suggestions(ctx context.Context, runID string) ([]ticket.Suggestion, error) {
	uid, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("get suggestions %s: %w", runID, ErrRunNotFound)
	}
	rows, err := s.db.Query(ctx, `
		SELECT open_key, open_summary, categories, suggested_key, suggested_solution, similarity
		FROM suggestions
		WHERE run_id = $1
		ORDER BY position`, uid)
	if err != nil {
		return nil, fmt.Errorf("get suggestions %s: %w", runID, err)
	}
	defer rows.Close()

	var out []ticket.Suggestion
	for rows.Next() {
		var sug ticket.Suggestion
		if err := rows.Scan(&sug.OpenKey, &sug.OpenSummary, &sug.Categories,
			&sug.SuggestedKey, &sug.SuggestedSolution, &sug.Similarity); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, sug)
	}
	return out, rows.Err()
}
