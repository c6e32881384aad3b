package report

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// Options controls what the HTML report shows.
type Options struct {
	TopCategories  int     `json:"top_categories"`
	MinSimilarity  float64 `json:"min_similarity"`
	MaxSuggestions int     `json:"max_suggestions"`
}

// DefaultOptions shows the top 10 categories and the first 20 suggestions
// scoring above 0.2.
func DefaultOptions() Options {
	return Options{TopCategories: 10, MinSimilarity: 0.2, MaxSuggestions: 20}
}

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"join":    strings.Join,
	"percent": func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"score":   func(f float64) string { return fmt.Sprintf("%.3f", f) },
	"deref":   deref,
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Relatório de Análise - Ticket Knowledge Miner</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        h1, h2 { color: #0052CC; }
        table { border-collapse: collapse; width: 80%; margin-top: 15px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        .metric { font-size: 1.2em; font-weight: bold; }
    </style>
</head>
<body>
    <h1>Relatório de Análise - Ticket Knowledge Miner</h1>
    <p>Execução {{.RunID}} em {{.Generated}}</p>

    <h2>Indicadores Principais (KPIs)</h2>
    <p>Total de Tickets Processados: <span class="metric">{{.Stats.TotalTickets}}</span></p>
    <p>Tickets Abertos: <span class="metric">{{.Stats.Open}}</span></p>
    <p>Tickets na Base de Conhecimento (Concluídos): <span class="metric">{{.Stats.Resolved}}</span></p>
    <p>Taxa de Cobertura (Abertos com Sugestão): <span class="metric">{{percent .Stats.Coverage}}%</span></p>

    <h2>Distribuição de Tickets por Categoria (Top {{.Top}})</h2>
    <h3>Base de Conhecimento (Concluídos)</h3>
    <table>
        <tr><th>Categoria</th><th>Total</th></tr>
        {{range .ResolvedDistribution}}<tr><td>{{.Label}}</td><td>{{.Count}}</td></tr>
        {{end}}
    </table>

    <h3>Tickets Abertos</h3>
    <table>
        <tr><th>Categoria</th><th>Total</th></tr>
        {{range .OpenDistribution}}<tr><td>{{.Label}}</td><td>{{.Count}}</td></tr>
        {{end}}
    </table>

    <h2>Sugestões Geradas (Amostra)</h2>
    <table>
        <tr><th>Ticket</th><th>Resumo</th><th>Categorias</th><th>Sugerido</th><th>Solução</th><th>Similaridade</th></tr>
        {{range .Suggestions}}<tr><td>{{.OpenKey}}</td><td>{{.OpenSummary}}</td><td>{{join .Categories ", "}}</td><td>{{deref .SuggestedKey}}</td><td>{{deref .SuggestedSolution}}</td><td>{{score .Similarity}}</td></tr>
        {{else}}<tr><td colspan="6">Sem sugestões acima do limiar.</td></tr>
        {{end}}
    </table>
</body>
</html>
`))

type pageData struct {
	RunID                string
	Generated            string
	Top                  int
	Stats                Stats
	ResolvedDistribution []CategoryCount
	OpenDistribution     []CategoryCount
	Suggestions          []ticket.Suggestion
}

// WriteHTML renders the report page. Values are HTML-escaped.
func WriteHTML(w io.Writer, runID string, generated time.Time, st Stats, suggestions []ticket.Suggestion, opts Options) error {
	data := pageData{
		RunID:                runID,
		Generated:            generated.Format(time.RFC3339),
		Top:                  opts.TopCategories,
		Stats:                st,
		ResolvedDistribution: Top(st.ResolvedDistribution, opts.TopCategories),
		OpenDistribution:     Top(st.OpenDistribution, opts.TopCategories),
		Suggestions:          Strong(suggestions, opts.MinSimilarity, opts.MaxSuggestions),
	}
	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Save writes the HTML report to path, creating its directory.
func Save(path, runID string, generated time.Time, st Stats, suggestions []ticket.Suggestion, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	if err := WriteHTML(f, runID, generated, st, suggestions, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
