package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/gateway"
	"github.com/nidhogg/ticket-miner/internal/graph"
	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/report"
	"github.com/nidhogg/ticket-miner/internal/store"
	"github.com/nidhogg/ticket-miner/internal/text"
	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// RunHistory is the persisted run history the API can browse.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*store.RunRow, error)
	GetRun(ctx context.Context, id string) (*store.RunRow, error)
	Suggestions(ctx context.Context, runID string) ([]ticket.Suggestion, error)
}

// PrecedentSource reads the precedent graph: past suggestions for an open
// ticket and how many resolved tickets each category holds.
type PrecedentSource interface {
	Precedents(ctx context.Context, openKey string) ([]graph.Precedent, error)
	CategoryLoad(ctx context.Context) (map[string]int, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pipeline   *pipeline.Pipeline
	input      string
	reportOpts report.Options
	current    atomic.Pointer[pipeline.Result]
	runMu      sync.Mutex
	history    RunHistory
	precedents PrecedentSource
	gw         *gateway.Gateway
	feed       *gateway.FeedAdapter
	notifier   *gateway.Notifier
	logger     *zap.Logger
}

// NewHandler creates a new API handler that re-runs the pipeline on input.
func NewHandler(p *pipeline.Pipeline, input string, reportOpts report.Options, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline:   p,
		input:      input,
		reportOpts: reportOpts,
		logger:     logger,
	}
}

// SetResult publishes res as the current run served by the API.
func (h *Handler) SetResult(res *pipeline.Result) { h.current.Store(res) }

// SetHistory enables the /api/runs history endpoints.
func (h *Handler) SetHistory(rh RunHistory) { h.history = rh }

// SetPrecedents enables precedent lookups on /api/suggestions/{key} and
// /api/categories/load.
func (h *Handler) SetPrecedents(ps PrecedentSource) { h.precedents = ps }

// SetGateway enables adapter status, the digest feed and delivery history.
func (h *Handler) SetGateway(gw *gateway.Gateway, feed *gateway.FeedAdapter, n *gateway.Notifier) {
	h.gw = gw
	h.feed = feed
	h.notifier = n
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/run", h.currentRun)
		r.Get("/suggestions", h.listSuggestions)
		r.Get("/suggestions/{key}", h.getSuggestion)
		r.Get("/knowledge", h.listKnowledge)
		r.Get("/categories/load", h.categoryLoad)
		r.Post("/categorize", h.categorize)
		r.Post("/match", h.match)

		// Runs
		r.Post("/runs", h.triggerRun)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)

		// Digests
		r.Get("/gateway/status", h.gatewayStatus)
		r.Get("/deliveries", h.listDeliveries)
		if h.feed != nil {
			r.Mount("/digests", h.feed.Routes())
		}
	})

	r.Get("/report", h.htmlReport)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// result returns the current run or writes a 503 and returns nil.
func (h *Handler) result(w http.ResponseWriter) *pipeline.Result {
	res := h.current.Load()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no completed run yet")
	}
	return res
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "service": "ticket-miner"}
	if res := h.current.Load(); res != nil {
		body["run_id"] = res.RunID
	}
	writeJSON(w, http.StatusOK, body)
}

// runSummary is the result of a run without its ticket lists.
type runSummary struct {
	RunID      string       `json:"run_id"`
	Source     string       `json:"source"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Stats      report.Stats `json:"stats"`
	Vocabulary int          `json:"vocabulary"`
	Unpruned   bool         `json:"unpruned_vocabulary"`
}

func summarize(res *pipeline.Result) runSummary {
	return runSummary{
		RunID:      res.RunID,
		Source:     res.Source,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Stats:      res.Stats,
		Vocabulary: res.Fit.Vocabulary,
		Unpruned:   res.Fit.Unpruned,
	}
}

func (h *Handler) currentRun(w http.ResponseWriter, r *http.Request) {
	res := h.result(w)
	if res == nil {
		return
	}
	writeJSON(w, http.StatusOK, summarize(res))
}

func (h *Handler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	res := h.result(w)
	if res == nil {
		return
	}
	out := res.Suggestions
	if v := r.URL.Query().Get("matched"); v != "" {
		want, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "matched must be a boolean")
			return
		}
		out = make([]ticket.Suggestion, 0, len(res.Suggestions))
		for _, s := range res.Suggestions {
			if s.Matched() == want {
				out = append(out, s)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type suggestionDetail struct {
	ticket.Suggestion
	Precedents []graph.Precedent `json:"precedents,omitempty"`
}

func (h *Handler) getSuggestion(w http.ResponseWriter, r *http.Request) {
	res := h.result(w)
	if res == nil {
		return
	}
	key := chi.URLParam(r, "key")
	for _, s := range res.Suggestions {
		if s.OpenKey != key {
			continue
		}
		detail := suggestionDetail{Suggestion: s}
		if h.precedents != nil {
			prec, err := h.precedents.Precedents(r.Context(), key)
			if err != nil {
				h.logger.Warn("precedent lookup failed", zap.String("key", key), zap.Error(err))
			}
			detail.Precedents = prec
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}
	writeError(w, http.StatusNotFound, "open ticket not found")
}

type knowledgeEntry struct {
	Key        string   `json:"key"`
	Summary    string   `json:"summary"`
	Status     string   `json:"status"`
	Categories []string `json:"categories"`
	Solution   string   `json:"solution"`
}

func (h *Handler) listKnowledge(w http.ResponseWriter, r *http.Request) {
	res := h.result(w)
	if res == nil {
		return
	}
	out := make([]knowledgeEntry, len(res.KnowledgeBase))
	for i, t := range res.KnowledgeBase {
		out[i] = knowledgeEntry{
			Key:        t.Key,
			Summary:    t.Summary,
			Status:     t.Status,
			Categories: t.Categories,
			Solution:   t.Solution,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// categorizeRequest accepts any JSON value as text; non-strings
// normalize to "".
type categorizeRequest struct {
	Text any `json:"text"`
}

func (h *Handler) categorize(w http.ResponseWriter, r *http.Request) {
	var req categorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clean := text.NormalizeAny(req.Text)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clean_text": clean,
		"categories": h.pipeline.Splitter().Categorizer().Classify(clean),
	})
}

type matchRequest struct {
	Key         string  `json:"key"`
	Summary     string  `json:"summary"`
	Description *string `json:"description"`
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Summary == "" && req.Description == nil {
		writeError(w, http.StatusBadRequest, "summary or description is required")
		return
	}
	res := h.result(w)
	if res == nil {
		return
	}
	if req.Key == "" {
		req.Key = "ad-hoc"
	}

	t := h.pipeline.Splitter().Normalize(ticket.Ticket{
		Key:         req.Key,
		Summary:     req.Summary,
		Description: req.Description,
	})
	s, err := h.pipeline.Matcher().MatchOne(r.Context(), res.KB, t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	if !h.runMu.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer h.runMu.Unlock()

	res, err := h.pipeline.RunFile(r.Context(), h.input)
	if err != nil {
		h.logger.Error("triggered run failed", zap.Error(err))
		status := http.StatusInternalServerError
		if pipeline.IsPrecondition(err) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, pipeline.Describe(err))
		return
	}
	h.SetResult(res)
	writeJSON(w, http.StatusCreated, summarize(res))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := h.history.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sugs, err := h.history.Suggestions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":         run,
		"suggestions": sugs,
	})
}

func (h *Handler) categoryLoad(w http.ResponseWriter, r *http.Request) {
	if h.precedents == nil {
		writeError(w, http.StatusServiceUnavailable, "precedent graph not configured")
		return
	}
	load, err := h.precedents.CategoryLoad(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]report.CategoryCount, 0, len(load))
	for label, n := range load {
		rows = append(rows, report.CategoryCount{Label: label, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Label < rows[j].Label
	})
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not initialized")
		return
	}
	writeJSON(w, http.StatusOK, h.gw.StatusAll())
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeJSON(w, http.StatusOK, []gateway.DeliveryRecord{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.notifier.History(limit))
}

func (h *Handler) htmlReport(w http.ResponseWriter, r *http.Request) {
	res := h.current.Load()
	if res == nil {
		http.Error(w, "no completed run yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(w, res.RunID, res.FinishedAt, res.Stats, res.Suggestions, h.reportOpts); err != nil {
		h.logger.Error("render report", zap.Error(err))
	}
}
