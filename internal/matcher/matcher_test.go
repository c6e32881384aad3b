package matcher

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/nidhogg/ticket-miner/internal/ticket"
	"github.com/nidhogg/ticket-miner/internal/vector"
)

// fakeSpace serves hand-built vectors so scores can be set exactly.
type fakeSpace struct {
	queries map[string]vector.Vector
	docs    []vector.Vector
	touched map[int]bool
}

func (f *fakeSpace) Transform(doc string) (vector.Vector, error) {
	return f.queries[doc], nil
}

func (f *fakeSpace) Document(i int) (vector.Vector, error) {
	if f.touched != nil {
		f.touched[i] = true
	}
	return f.docs[i], nil
}

func unit2(x float64) vector.Vector {
	return vector.Vector{Indices: []int{0, 1}, Values: []float64{x, math.Sqrt(1 - x*x)}}
}

func openTicket(key, clean string, cats ...string) ticket.NormalizedTicket {
	return ticket.NormalizedTicket{
		Ticket:     ticket.Ticket{Key: key, Summary: "summary " + key, Status: "Aberto"},
		CleanText:  clean,
		Categories: cats,
	}
}

func resolvedTicket(key, clean, solution string, cats ...string) ticket.ResolvedTicket {
	return ticket.ResolvedTicket{
		NormalizedTicket: ticket.NormalizedTicket{
			Ticket:     ticket.Ticket{Key: key, Status: "Done"},
			CleanText:  clean,
			Categories: cats,
		},
		Solution: solution,
	}
}

func realKB(t *testing.T, resolved ...ticket.ResolvedTicket) *KnowledgeBase {
	t.Helper()
	kb, _, err := BuildKnowledgeBase(resolved, vector.DefaultOptions())
	if err != nil {
		t.Fatalf("BuildKnowledgeBase: %v", err)
	}
	return kb
}

func TestScenarioIdenticalText(t *testing.T) {
	kb := realKB(t, resolvedTicket("KB-1", "não consigo fazer login na conta", "Reiniciar a conta.", "ACESSO_SISTEMAS"))
	m := New(DefaultOptions(), zap.NewNop())

	out, err := m.FindMatches(context.Background(),
		[]ticket.NormalizedTicket{openTicket("OP-1", "não consigo fazer login na conta", "ACESSO_SISTEMAS")}, kb)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(out))
	}
	s := out[0]
	if !s.Matched() || *s.SuggestedKey != "KB-1" {
		t.Fatalf("suggestion = %+v, want KB-1", s)
	}
	if *s.SuggestedSolution != "Reiniciar a conta." {
		t.Errorf("solution = %q", *s.SuggestedSolution)
	}
	if math.Abs(s.Similarity-1) > 1e-9 {
		t.Errorf("similarity = %v, want 1", s.Similarity)
	}
}

func TestScenarioNoSharedCategory(t *testing.T) {
	kb := realKB(t,
		resolvedTicket("KB-1", "pedido de férias aprovado", "Aprovado.", "NORMAS_RH"),
		resolvedTicket("KB-2", "template de contrato", "Ver intranet.", "DOCUMENTOS"),
	)
	m := New(DefaultOptions(), zap.NewNop())

	out, err := m.FindMatches(context.Background(),
		[]ticket.NormalizedTicket{openTicket("OP-1", "pedido de férias aprovado", "ACESSO_SISTEMAS")}, kb)
	if err != nil {
		t.Fatal(err)
	}
	s := out[0]
	if s.Matched() || s.SuggestedSolution != nil || s.Similarity != 0 {
		t.Errorf("suggestion = %+v, want no match", s)
	}
	if s.OpenKey != "OP-1" || s.OpenSummary != "summary OP-1" {
		t.Errorf("open fields not carried: %+v", s)
	}
	if !cmp.Equal(s.Categories, []string{"ACESSO_SISTEMAS"}) {
		t.Errorf("categories = %v", s.Categories)
	}
}

func TestScenarioHigherSimilarityWins(t *testing.T) {
	kb := realKB(t,
		resolvedTicket("KB-1", "impressora do piso dois sem toner", "Trocar toner.", "ACESSO_SISTEMAS"),
		resolvedTicket("KB-2", "senha do portal expirada", "Repor senha no portal.", "ACESSO_SISTEMAS"),
		resolvedTicket("KB-3", "pedido de férias", "Aprovar no portal RH.", "NORMAS_RH"),
	)
	m := New(DefaultOptions(), zap.NewNop())

	out, err := m.FindMatches(context.Background(),
		[]ticket.NormalizedTicket{openTicket("OP-1", "a minha senha expirada", "ACESSO_SISTEMAS")}, kb)
	if err != nil {
		t.Fatal(err)
	}
	if !out[0].Matched() || *out[0].SuggestedKey != "KB-2" {
		t.Errorf("suggestion = %+v, want KB-2", out[0])
	}
}

func TestCategoryFilterBeforeScoring(t *testing.T) {
	space := &fakeSpace{
		queries: map[string]vector.Vector{"q": unit2(1)},
		docs:    []vector.Vector{unit2(1), unit2(0.5), unit2(0.9)},
		touched: map[int]bool{},
	}
	kb := &KnowledgeBase{
		Tickets: []ticket.ResolvedTicket{
			resolvedTicket("KB-0", "", "s0", "A"),
			resolvedTicket("KB-1", "", "s1", "B"),
			resolvedTicket("KB-2", "", "s2", "B", "C"),
		},
		Space: space,
	}
	m := New(DefaultOptions(), zap.NewNop())

	s, err := m.MatchOne(context.Background(), kb, openTicket("OP", "q", "C", "B"))
	if err != nil {
		t.Fatal(err)
	}
	if *s.SuggestedKey != "KB-2" {
		t.Errorf("suggested %s, want KB-2 (KB-0 is a better text match but filtered out)", *s.SuggestedKey)
	}
	if space.touched[0] {
		t.Error("filtered-out candidate KB-0 was scored")
	}
	if !space.touched[1] || !space.touched[2] {
		t.Errorf("candidates not scored: %v", space.touched)
	}
}

func TestThresholdBoundary(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  bool
	}{
		{"exactly threshold rejected", 0.1, false},
		{"just above accepted", 0.100001, true},
		{"below rejected", 0.05, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space := &fakeSpace{
				queries: map[string]vector.Vector{"q": {Indices: []int{0}, Values: []float64{1}}},
				docs:    []vector.Vector{unit2(tt.score)},
			}
			kb := &KnowledgeBase{
				Tickets: []ticket.ResolvedTicket{resolvedTicket("KB-1", "", "sol", "A")},
				Space:   space,
			}
			s, err := New(DefaultOptions(), zap.NewNop()).MatchOne(context.Background(), kb, openTicket("OP", "q", "A"))
			if err != nil {
				t.Fatal(err)
			}
			if s.Matched() != tt.want {
				t.Errorf("score %v: matched = %v, want %v", tt.score, s.Matched(), tt.want)
			}
			if !tt.want && s.Similarity != 0 {
				t.Errorf("rejected suggestion carries similarity %v", s.Similarity)
			}
			if tt.want && s.Similarity != tt.score {
				t.Errorf("similarity = %v, want %v", s.Similarity, tt.score)
			}
		})
	}
}

func TestTieBreakFirstInKnowledgeBaseOrder(t *testing.T) {
	space := &fakeSpace{
		queries: map[string]vector.Vector{"q": {Indices: []int{0}, Values: []float64{1}}},
		docs:    []vector.Vector{unit2(0.2), unit2(0.7), unit2(0.7)},
	}
	kb := &KnowledgeBase{
		Tickets: []ticket.ResolvedTicket{
			resolvedTicket("KB-0", "", "s0", "A"),
			resolvedTicket("KB-1", "", "s1", "A"),
			resolvedTicket("KB-2", "", "s2", "A"),
		},
		Space: space,
	}
	s, err := New(DefaultOptions(), zap.NewNop()).MatchOne(context.Background(), kb, openTicket("OP", "q", "A"))
	if err != nil {
		t.Fatal(err)
	}
	if *s.SuggestedKey != "KB-1" {
		t.Errorf("suggested %s, want KB-1", *s.SuggestedKey)
	}
}

func TestEmptyCategoriesDegrade(t *testing.T) {
	kb := realKB(t, resolvedTicket("KB-1", "login bloqueado", "Desbloquear.", "ACESSO_SISTEMAS"))
	open := []ticket.NormalizedTicket{
		openTicket("OP-1", "login bloqueado"),
		openTicket("OP-2", "login bloqueado", "ACESSO_SISTEMAS"),
	}
	out, err := New(DefaultOptions(), zap.NewNop()).FindMatches(context.Background(), open, kb)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Matched() {
		t.Errorf("ticket without categories matched: %+v", out[0])
	}
	if !out[1].Matched() {
		t.Errorf("batch did not continue after degraded ticket: %+v", out[1])
	}
}

type panicSpace struct{ fakeSpace }

func (p *panicSpace) Transform(doc string) (vector.Vector, error) {
	if doc == "boom" {
		panic("corrupt vector")
	}
	return p.fakeSpace.Transform(doc)
}

func TestPanicDegradesSingleTicket(t *testing.T) {
	space := &panicSpace{fakeSpace{
		queries: map[string]vector.Vector{"q": {Indices: []int{0}, Values: []float64{1}}},
		docs:    []vector.Vector{unit2(0.8)},
	}}
	kb := &KnowledgeBase{
		Tickets: []ticket.ResolvedTicket{resolvedTicket("KB-1", "", "sol", "A")},
		Space:   space,
	}
	open := []ticket.NormalizedTicket{openTicket("OP-1", "boom", "A"), openTicket("OP-2", "q", "A")}
	out, err := New(DefaultOptions(), zap.NewNop()).FindMatches(context.Background(), open, kb)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Matched() || out[0].OpenKey != "OP-1" {
		t.Errorf("panicking ticket = %+v, want degraded no match", out[0])
	}
	if !out[1].Matched() {
		t.Errorf("second ticket = %+v, want match", out[1])
	}
}

func TestUnfittedSpaceFails(t *testing.T) {
	vz, err := vector.NewVectorizer(vector.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	kb := &KnowledgeBase{
		Tickets: []ticket.ResolvedTicket{resolvedTicket("KB-1", "login", "sol", "A")},
		Space:   vz,
	}
	_, err = New(DefaultOptions(), zap.NewNop()).FindMatches(context.Background(),
		[]ticket.NormalizedTicket{openTicket("OP-1", "login", "A")}, kb)
	if !errors.Is(err, vector.ErrNotFitted) {
		t.Errorf("err = %v, want ErrNotFitted", err)
	}
}

func TestEmptyOpenSet(t *testing.T) {
	kb := realKB(t, resolvedTicket("KB-1", "login", "sol", "A"))
	out, err := New(DefaultOptions(), zap.NewNop()).FindMatches(context.Background(), nil, kb)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("got %d suggestions, want 0", len(out))
	}
}

func TestBuildKnowledgeBaseEmpty(t *testing.T) {
	if _, _, err := BuildKnowledgeBase(nil, vector.DefaultOptions()); !errors.Is(err, ErrEmptyKnowledgeBase) {
		t.Errorf("err = %v, want ErrEmptyKnowledgeBase", err)
	}
}

func fixture(t *testing.T) (*KnowledgeBase, []ticket.NormalizedTicket) {
	t.Helper()
	kb := realKB(t,
		resolvedTicket("KB-1", "login bloqueado apos tentativas", "Desbloquear no AD.", "ACESSO_SISTEMAS"),
		resolvedTicket("KB-2", "senha expirada no portal", "Repor senha.", "ACESSO_SISTEMAS"),
		resolvedTicket("KB-3", "pedido de férias aprovado", "Aprovar no portal RH.", "NORMAS_RH"),
		resolvedTicket("KB-4", "template de documento de viagem", "Ver intranet.", "DOCUMENTOS"),
		resolvedTicket("KB-5", "formulário de reembolso de despesas", "Enviar à contabilidade.", "NORMAS_RH", "DOCUMENTOS"),
	)
	open := []ticket.NormalizedTicket{
		openTicket("OP-1", "login bloqueado", "ACESSO_SISTEMAS"),
		openTicket("OP-2", "reembolso de despesas de viagem", "NORMAS_RH"),
		openTicket("OP-3", "impressora avariada", "OUTROS"),
		openTicket("OP-4", "documento de viagem", "DOCUMENTOS"),
		openTicket("OP-5", "senha do portal", "ACESSO_SISTEMAS"),
		openTicket("OP-6", "férias", "NORMAS_RH"),
	}
	return kb, open
}

func TestFindMatchesDeterministic(t *testing.T) {
	kb, open := fixture(t)
	m := New(DefaultOptions(), zap.NewNop())
	first, err := m.FindMatches(context.Background(), open, kb)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.FindMatches(context.Background(), open, kb)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
}

func TestFindMatchesParallelPreservesOrder(t *testing.T) {
	kb, open := fixture(t)
	seq, err := New(DefaultOptions(), zap.NewNop()).FindMatches(context.Background(), open, kb)
	if err != nil {
		t.Fatal(err)
	}
	par, err := New(Options{Threshold: 0.1, Workers: 4}, zap.NewNop()).FindMatches(context.Background(), open, kb)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(seq, par); diff != "" {
		t.Errorf("parallel result differs (-seq +par):\n%s", diff)
	}
	for i, s := range par {
		if s.OpenKey != open[i].Key {
			t.Errorf("slot %d holds %s, want %s", i, s.OpenKey, open[i].Key)
		}
	}
}

func TestFindMatchesCanceled(t *testing.T) {
	kb, open := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(DefaultOptions(), zap.NewNop()).FindMatches(ctx, open, kb); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
