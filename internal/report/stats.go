package report

import (
	"sort"

	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// CategoryCount is one row of a category distribution.
type CategoryCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats are the headline numbers of a run.
type Stats struct {
	TotalTickets         int             `json:"total_tickets"`
	Open                 int             `json:"open"`
	Resolved             int             `json:"resolved"`
	Matched              int             `json:"matched"`
	Coverage             float64         `json:"coverage_percent"`
	ResolvedDistribution []CategoryCount `json:"resolved_distribution"`
	OpenDistribution     []CategoryCount `json:"open_distribution"`
}

// Compute derives run statistics. Coverage is the percentage of open
// tickets that received a suggestion, 0 when nothing is open.
func Compute(open []ticket.NormalizedTicket, kb []ticket.ResolvedTicket, suggestions []ticket.Suggestion) Stats {
	st := Stats{
		TotalTickets: len(open) + len(kb),
		Open:         len(open),
		Resolved:     len(kb),
	}
	for _, s := range suggestions {
		if s.Matched() {
			st.Matched++
		}
	}
	if len(open) > 0 {
		st.Coverage = float64(st.Matched) / float64(len(open)) * 100
	}

	openCats := make([][]string, len(open))
	for i, t := range open {
		openCats[i] = t.Categories
	}
	kbCats := make([][]string, len(kb))
	for i, t := range kb {
		kbCats[i] = t.Categories
	}
	st.OpenDistribution = Distribution(openCats)
	st.ResolvedDistribution = Distribution(kbCats)
	return st
}

// Distribution counts label occurrences; a ticket with N labels contributes
// to N counts. Rows are ordered by count descending, then label.
func Distribution(categories [][]string) []CategoryCount {
	counts := make(map[string]int)
	for _, labels := range categories {
		for _, l := range labels {
			counts[l]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for l, c := range counts {
		out = append(out, CategoryCount{Label: l, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Top returns at most n rows of a distribution.
func Top(rows []CategoryCount, n int) []CategoryCount {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}

// Strong returns up to limit suggestions whose similarity exceeds min, in
// input order.
func Strong(suggestions []ticket.Suggestion, min float64, limit int) []ticket.Suggestion {
	var out []ticket.Suggestion
	for _, s := range suggestions {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s.Similarity > min {
			out = append(out, s)
		}
	}
	return out
}
