package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/categorizer"
	"github.com/nidhogg/ticket-miner/internal/corpus"
	"github.com/nidhogg/ticket-miner/internal/gateway"
	"github.com/nidhogg/ticket-miner/internal/graph"
	"github.com/nidhogg/ticket-miner/internal/matcher"
	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/report"
	"github.com/nidhogg/ticket-miner/internal/store"
	"github.com/nidhogg/ticket-miner/internal/ticket"
	"github.com/nidhogg/ticket-miner/internal/vector"
)

const exportJSON = `{"total": 4, "issues": [
	{"key": "SUP-1", "fields": {"summary": "Login bloqueado no portal", "status": {"name": "Done"},
		"comment": {"comments": [{"body": "Desbloquear a conta no AD."}]}}},
	{"key": "SUP-2", "fields": {"summary": "Pedido de férias", "description": "Aprovação de férias de agosto",
		"status": {"name": "Resolvido"}, "comment": {"comments": [{"body": "Aprovar no portal RH."}]}}},
	{"key": "SUP-3", "fields": {"summary": "Login bloqueado", "description": "Portal não deixa entrar", "status": {"name": "Em curso"}}},
	{"key": "SUP-4", "fields": {"summary": "Impressora sem toner", "status": {"name": "Aberto"}}}
]}`

// newTestHandler creates a Handler over a pipeline reading a temp export.
func newTestHandler(t *testing.T, doc string) *Handler {
	t.Helper()
	logger := zap.NewNop()

	input := filepath.Join(t.TempDir(), "dados_jira.json")
	if err := os.WriteFile(input, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	splitter := corpus.NewSplitter(categorizer.New(categorizer.DefaultRules()), corpus.DefaultResolvedStatuses())
	p := pipeline.New(splitter, vector.DefaultOptions(), matcher.New(matcher.DefaultOptions(), logger), logger)

	return NewHandler(p, input, report.DefaultOptions(), logger)
}

func serve(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

// runOnce triggers a run so the handler has a current result.
func runOnce(t *testing.T, ts *httptest.Server) runSummary {
	t.Helper()
	resp := postJSON(t, ts, "/api/runs", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/runs: expected 201, got %d", resp.StatusCode)
	}
	var sum runSummary
	decodeJSON(t, resp, &sum)
	return sum
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if _, ok := body["run_id"]; ok {
		t.Error("run_id reported before any run")
	}
}

func TestEndpointsBeforeFirstRun(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)

	for _, path := range []string{"/api/run", "/api/suggestions", "/api/knowledge", "/report"} {
		resp := getJSON(t, ts, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s: expected 503, got %d", path, resp.StatusCode)
		}
	}
	resp := postJSON(t, ts, "/api/match", map[string]string{"summary": "login bloqueado"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("POST /api/match: expected 503, got %d", resp.StatusCode)
	}
}

func TestRunAndBrowse(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)

	sum := runOnce(t, ts)
	if sum.RunID == "" || sum.Stats.Open != 2 || sum.Stats.Matched != 1 || sum.Stats.Coverage != 50 {
		t.Fatalf("summary = %+v", sum)
	}

	var cur runSummary
	decodeJSON(t, getJSON(t, ts, "/api/run"), &cur)
	if cur.RunID != sum.RunID {
		t.Errorf("current run %q, want %q", cur.RunID, sum.RunID)
	}

	var all []ticket.Suggestion
	decodeJSON(t, getJSON(t, ts, "/api/suggestions"), &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(all))
	}

	var matched []ticket.Suggestion
	decodeJSON(t, getJSON(t, ts, "/api/suggestions?matched=true"), &matched)
	if len(matched) != 1 || matched[0].OpenKey != "SUP-3" || *matched[0].SuggestedKey != "SUP-1" {
		t.Errorf("matched suggestions = %+v", matched)
	}

	var unmatched []ticket.Suggestion
	decodeJSON(t, getJSON(t, ts, "/api/suggestions?matched=false"), &unmatched)
	if len(unmatched) != 1 || unmatched[0].OpenKey != "SUP-4" {
		t.Errorf("unmatched suggestions = %+v", unmatched)
	}

	resp := getJSON(t, ts, "/api/suggestions?matched=maybe")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad matched filter: expected 400, got %d", resp.StatusCode)
	}

	var kb []knowledgeEntry
	decodeJSON(t, getJSON(t, ts, "/api/knowledge"), &kb)
	if len(kb) != 2 || kb[0].Key != "SUP-1" || kb[0].Solution != "Desbloquear a conta no AD." {
		t.Errorf("knowledge = %+v", kb)
	}
}

type fakePrecedents struct{}

func (fakePrecedents) Precedents(_ context.Context, key string) ([]graph.Precedent, error) {
	return []graph.Precedent{{Key: "SUP-1", RunID: "older", Score: 0.5}}, nil
}

func (fakePrecedents) CategoryLoad(_ context.Context) (map[string]int, error) {
	return map[string]int{"NORMAS_RH": 2, "ACESSO_SISTEMAS": 5, "DOCUMENTOS": 2}, nil
}

func TestCategoryLoad(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)

	resp := getJSON(t, ts, "/api/categories/load")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("graph disabled: expected 503, got %d", resp.StatusCode)
	}

	h.SetPrecedents(fakePrecedents{})
	ts = serve(t, h)

	var rows []report.CategoryCount
	decodeJSON(t, getJSON(t, ts, "/api/categories/load"), &rows)
	want := []report.CategoryCount{
		{Label: "ACESSO_SISTEMAS", Count: 5},
		{Label: "DOCUMENTOS", Count: 2},
		{Label: "NORMAS_RH", Count: 2},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestGetSuggestion(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	h.SetPrecedents(fakePrecedents{})
	ts := serve(t, h)
	runOnce(t, ts)

	var detail suggestionDetail
	decodeJSON(t, getJSON(t, ts, "/api/suggestions/SUP-3"), &detail)
	if detail.OpenKey != "SUP-3" || len(detail.Precedents) != 1 || detail.Precedents[0].RunID != "older" {
		t.Errorf("detail = %+v", detail)
	}

	resp := getJSON(t, ts, "/api/suggestions/SUP-99")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown key: expected 404, got %d", resp.StatusCode)
	}
}

func TestCategorize(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)

	var body struct {
		CleanText  string   `json:"clean_text"`
		Categories []string `json:"categories"`
	}
	decodeJSON(t, postJSON(t, ts, "/api/categorize", map[string]string{"text": "Pedido de FÉRIAS e Login!"}), &body)
	if body.CleanText != "pedido de férias e login" {
		t.Errorf("clean text = %q", body.CleanText)
	}
	if len(body.Categories) != 2 || body.Categories[0] != "NORMAS_RH" || body.Categories[1] != "ACESSO_SISTEMAS" {
		t.Errorf("categories = %v", body.Categories)
	}

	decodeJSON(t, postJSON(t, ts, "/api/categorize", map[string]interface{}{"text": 42}), &body)
	if body.CleanText != "" || len(body.Categories) != 1 || body.Categories[0] != categorizer.Fallback {
		t.Errorf("non-string text = %+v", body)
	}

	resp, err := http.Post(ts.URL+"/api/categorize", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", resp.StatusCode)
	}
}

func TestMatch(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)
	runOnce(t, ts)

	var s ticket.Suggestion
	decodeJSON(t, postJSON(t, ts, "/api/match", map[string]string{"summary": "Login bloqueado no portal"}), &s)
	if s.OpenKey != "ad-hoc" || !s.Matched() || *s.SuggestedKey != "SUP-1" {
		t.Errorf("match = %+v", s)
	}

	decodeJSON(t, postJSON(t, ts, "/api/match", map[string]string{"key": "X-1", "summary": "Impressora avariada"}), &s)
	if s.OpenKey != "X-1" || s.Matched() {
		t.Errorf("unrelated ticket matched: %+v", s)
	}

	resp := postJSON(t, ts, "/api/match", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty ticket: expected 400, got %d", resp.StatusCode)
	}
}

func TestRunPreconditionFailure(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"no input", `{"issues": []}`, pipeline.ErrNoInput},
		{"no resolved tickets",
			`{"issues": [{"key": "A", "fields": {"summary": "login", "status": {"name": "Aberto"}}}]}`,
			pipeline.ErrEmptyKnowledgeBase},
		{"no indexable text",
			`{"issues": [{"key": "A", "fields": {"summary": "42 !!", "status": {"name": "Done"}}},
				{"key": "B", "fields": {"summary": "login", "status": {"name": "Aberto"}}}]}`,
			vector.ErrEmptyVocabulary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := serve(t, newTestHandler(t, tt.doc))

			resp := postJSON(t, ts, "/api/runs", nil)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", resp.StatusCode)
			}
			var body map[string]string
			decodeJSON(t, resp, &body)
			if body["error"] != pipeline.Describe(tt.want) {
				t.Errorf("error = %q, want %q", body["error"], pipeline.Describe(tt.want))
			}
		})
	}
}

type fakeHistory struct {
	runs []*store.RunRow
}

func (f *fakeHistory) ListRuns(_ context.Context, limit int) ([]*store.RunRow, error) {
	return f.runs, nil
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (*store.RunRow, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, store.ErrRunNotFound
}

func (f *fakeHistory) Suggestions(_ context.Context, runID string) ([]ticket.Suggestion, error) {
	return []ticket.Suggestion{{OpenKey: "SUP-3"}}, nil
}

func TestRunHistory(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)

	resp := getJSON(t, ts, "/api/runs")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("history disabled: expected 503, got %d", resp.StatusCode)
	}

	h.SetHistory(&fakeHistory{runs: []*store.RunRow{{ID: "r1", Matched: 3}}})
	ts = serve(t, h)

	var runs []store.RunRow
	decodeJSON(t, getJSON(t, ts, "/api/runs"), &runs)
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("runs = %+v", runs)
	}

	var detail struct {
		Run         store.RunRow        `json:"run"`
		Suggestions []ticket.Suggestion `json:"suggestions"`
	}
	decodeJSON(t, getJSON(t, ts, "/api/runs/r1"), &detail)
	if detail.Run.Matched != 3 || len(detail.Suggestions) != 1 {
		t.Errorf("run detail = %+v", detail)
	}

	resp = getJSON(t, ts, "/api/runs/missing")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run: expected 404, got %d", resp.StatusCode)
	}
}

func TestDigestsAndDeliveries(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	logger := zap.NewNop()
	gw := gateway.NewGateway(logger)
	feed := gateway.NewFeedAdapter(5, logger)
	gw.Register(feed)
	n := gateway.NewNotifier(gw, 10, logger)
	h.pipeline.AddSink(n)
	h.SetGateway(gw, feed, n)
	ts := serve(t, h)

	sum := runOnce(t, ts)

	var statuses []gateway.AdapterStatus
	decodeJSON(t, getJSON(t, ts, "/api/gateway/status"), &statuses)
	if len(statuses) != 1 || statuses[0].Platform != "feed" || !statuses[0].Connected {
		t.Errorf("gateway status = %+v", statuses)
	}

	var digests []gateway.Digest
	decodeJSON(t, getJSON(t, ts, "/api/digests"), &digests)
	if len(digests) != 1 || digests[0].RunID != sum.RunID || len(digests[0].Suggestions) != 1 {
		t.Errorf("digests = %+v", digests)
	}

	var deliveries []gateway.DeliveryRecord
	decodeJSON(t, getJSON(t, ts, "/api/deliveries"), &deliveries)
	if len(deliveries) != 1 || deliveries[0].RunID != sum.RunID {
		t.Errorf("deliveries = %+v", deliveries)
	}
}

func TestGatewayStatusDisabled(t *testing.T) {
	ts := serve(t, newTestHandler(t, exportJSON))
	resp := getJSON(t, ts, "/api/gateway/status")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReportAndMetrics(t *testing.T) {
	h := newTestHandler(t, exportJSON)
	ts := serve(t, h)
	sum := runOnce(t, ts)

	resp := getJSON(t, ts, "/report")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("report: status %d, content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), sum.RunID) {
		t.Error("report does not mention the run id")
	}

	resp = getJSON(t, ts, "/metrics")
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "miner_matcher_tickets_total") {
		t.Error("metrics missing matcher counter")
	}
}
