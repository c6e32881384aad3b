package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// Store keeps the precedent graph in Neo4j:
//
//	(:Ticket)-[:IN_CATEGORY]->(:Category)
//	(:Ticket {open})-[:SUGGESTS {run_id, score}]->(:Ticket {resolved})
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a new Neo4j graph store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints the writes rely on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT ticket_key IF NOT EXISTS FOR (t:Ticket) REQUIRE t.key IS UNIQUE`,
		`CREATE CONSTRAINT category_label IF NOT EXISTS FOR (c:Category) REQUIRE c.label IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func ticketRows(open []ticket.NormalizedTicket, kb []ticket.ResolvedTicket) []map[string]any {
	rows := make([]map[string]any, 0, len(open)+len(kb))
	for _, t := range kb {
		rows = append(rows, map[string]any{
			"key": t.Key, "summary": t.Summary, "status": t.Status,
			"resolved": true, "solution": t.Solution, "categories": t.Categories,
		})
	}
	for _, t := range open {
		rows = append(rows, map[string]any{
			"key": t.Key, "summary": t.Summary, "status": t.Status,
			"resolved": false, "solution": nil, "categories": t.Categories,
		})
	}
	return rows
}

func suggestionRows(sugs []ticket.Suggestion) []map[string]any {
	var rows []map[string]any
	for _, s := range sugs {
		if !s.Matched() {
			continue
		}
		rows = append(rows, map[string]any{"open": s.OpenKey, "resolved": *s.SuggestedKey, "score": s.Similarity})
	}
	return rows
}

// SaveRun merges the run's tickets and categories and records one
// SUGGESTS edge per matched open ticket.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Result) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`UNWIND $tickets AS row
			 MERGE (t:Ticket {key: row.key})
			 SET t.summary = row.summary, t.status = row.status,
			     t.resolved = row.resolved, t.solution = row.solution
			 WITH t, row
			 UNWIND row.categories AS label
			 MERGE (c:Category {label: label})
			 MERGE (t)-[:IN_CATEGORY]->(c)`,
			map[string]any{"tickets": ticketRows(res.Open, res.KnowledgeBase)}); err != nil {
			return nil, fmt.Errorf("merge tickets: %w", err)
		}
		if _, err := tx.Run(ctx,
			`UNWIND $suggestions AS row
			 MATCH (o:Ticket {key: row.open}), (r:Ticket {key: row.resolved})
			 MERGE (o)-[e:SUGGESTS {run_id: $runId}]->(r)
			 SET e.score = row.score`,
			map[string]any{"runId": res.RunID, "suggestions": suggestionRows(res.Suggestions)}); err != nil {
			return nil, fmt.Errorf("merge suggestions: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("save run %s to graph: %w", res.RunID, err)
	}
	return nil
}

// Precedent is a resolved ticket that was suggested for an open one.
type Precedent struct {
	Key   string  `json:"key"`
	RunID string  `json:"run_id"`
	Score float64 `json:"score"`
}

// Precedents returns the resolved tickets suggested for openKey across
// all runs, best score first.
func (s *Store) Precedents(ctx context.Context, openKey string) ([]Precedent, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Ticket {key: $key})-[e:SUGGESTS]->(r:Ticket)
		 RETURN r.key AS key, e.run_id AS run_id, e.score AS score
		 ORDER BY score DESC, key`,
		map[string]any{"key": openKey})
	if err != nil {
		return nil, fmt.Errorf("precedents of %s: %w", openKey, err)
	}

	var out []Precedent
	for result.Next(ctx) {
		rec := result.Record()
		key, _ := rec.Get("key")
		runID, _ := rec.Get("run_id")
		score, _ := rec.Get("score")
		out = append(out, Precedent{
			Key:   key.(string),
			RunID: runID.(string),
			Score: score.(float64),
		})
	}
	return out, result.Err()
}

// CategoryLoad counts resolved tickets per category.
func (s *Store) CategoryLoad(ctx context.Context) (map[string]int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (t:Ticket {resolved: true})-[:IN_CATEGORY]->(c:Category)
		 RETURN c.label AS label, count(t) AS n`, nil)
	if err != nil {
		return nil, fmt.Errorf("category load: %w", err)
	}
	out := make(map[string]int)
	for result.Next(ctx) {
		rec := result.Record()
		label, _ := rec.Get("label")
		n, _ := rec.Get("n")
		out[label.(string)] = int(n.(int64))
	}
	return out, result.Err()
}

// Sink adapts a Store to pipeline.Sink.
type Sink struct {
	store *Store
}

// NewSink wraps s as a pipeline sink.
func NewSink(s *Store) *Sink { return &Sink{store: s} }

func (k *Sink) Name() string { return "neo4j" }

func (k *Sink) Publish(ctx context.Context, res *pipeline.Result) error {
	if err := k.store.SaveRun(ctx, res); err != nil {
		return err
	}
	k.store.logger.Info("precedent graph updated", zap.String("run", res.RunID))
	return nil
}
