package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/nidhogg/ticket-miner/internal/ticket"
)

const solutionWidth = 60

// WriteTable prints run statistics and suggestions as console tables.
func WriteTable(w io.Writer, st Stats, suggestions []ticket.Suggestion, opts Options) {
	kpi := table.NewWriter()
	kpi.SetOutputMirror(w)
	kpi.SetStyle(table.StyleRounded)
	kpi.SetTitle("Run summary")
	kpi.AppendRows([]table.Row{
		{"Tickets", st.TotalTickets},
		{"Open", st.Open},
		{"Knowledge base", st.Resolved},
		{"Suggested", st.Matched},
		{"Coverage", fmt.Sprintf("%.2f%%", st.Coverage)},
	})
	kpi.Render()

	dist := table.NewWriter()
	dist.SetOutputMirror(w)
	dist.SetStyle(table.StyleRounded)
	dist.SetTitle("Categories")
	dist.AppendHeader(table.Row{"Category", "Knowledge base", "Open"})
	for _, row := range mergeDistributions(st, opts.TopCategories) {
		dist.AppendRow(row)
	}
	dist.Render()

	sug := table.NewWriter()
	sug.SetOutputMirror(w)
	sug.SetStyle(table.StyleRounded)
	sug.SetTitle("Suggestions")
	sug.AppendHeader(table.Row{"Open", "Categories", "Suggested", "Solution", "Similarity"})
	sug.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Solution", WidthMax: solutionWidth},
		{Name: "Similarity", Align: text.AlignRight},
	})
	for _, s := range Strong(suggestions, opts.MinSimilarity, opts.MaxSuggestions) {
		sug.AppendRow(table.Row{
			s.OpenKey,
			strings.Join(s.Categories, ", "),
			deref(s.SuggestedKey),
			deref(s.SuggestedSolution),
			fmt.Sprintf("%.3f", s.Similarity),
		})
	}
	sug.Render()
}

// mergeDistributions lines up both distributions by label, ordered by the
// knowledge base ranking followed by labels only seen among open tickets.
func mergeDistributions(st Stats, top int) []table.Row {
	openCounts := make(map[string]int, len(st.OpenDistribution))
	for _, c := range st.OpenDistribution {
		openCounts[c.Label] = c.Count
	}
	seen := make(map[string]bool)
	var rows []table.Row
	for _, c := range st.ResolvedDistribution {
		seen[c.Label] = true
		rows = append(rows, table.Row{c.Label, c.Count, openCounts[c.Label]})
	}
	for _, c := range st.OpenDistribution {
		if !seen[c.Label] {
			rows = append(rows, table.Row{c.Label, 0, c.Count})
		}
	}
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
