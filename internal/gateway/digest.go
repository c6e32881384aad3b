package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/ticket-miner/internal/pipeline"
	"github.com/nidhogg/ticket-miner/internal/ticket"
)

// BuildDigest condenses a run into a digest carrying at most limit
// matched suggestions, strongest first. Ties keep open-ticket order.
func BuildDigest(res *pipeline.Result, limit int) *Digest {
	var matched []ticket.Suggestion
	for _, s := range res.Suggestions {
		if s.Matched() {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Similarity > matched[j].Similarity
	})
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return &Digest{
		RunID:       res.RunID,
		Source:      res.Source,
		FinishedAt:  res.FinishedAt,
		Open:        res.Stats.Open,
		Resolved:    res.Stats.Resolved,
		Matched:     res.Stats.Matched,
		Coverage:    res.Stats.Coverage,
		Suggestions: matched,
	}
}

// Title is the one-line headline of the digest.
func (d *Digest) Title() string {
	return fmt.Sprintf("Ticket mining run %s: %d/%d open tickets matched (%.1f%%)",
		shortID(d.RunID), d.Matched, d.Open, d.Coverage)
}

// Lines renders one line per suggestion. bold wraps emphasized text in
// the platform's markup, e.g. "*" for Slack or "**" for Discord.
func (d *Digest) Lines(bold string) []string {
	lines := make([]string, 0, len(d.Suggestions))
	for _, s := range d.Suggestions {
		solution := ""
		if s.SuggestedSolution != nil {
			solution = truncate(*s.SuggestedSolution, 140)
		}
		lines = append(lines, fmt.Sprintf("%s%s%s → %s (%.2f) %s",
			bold, s.OpenKey, bold, *s.SuggestedKey, s.Similarity, solution))
	}
	return lines
}

// Text renders the whole digest as plain text with the given bold markup.
func (d *Digest) Text(bold string) string {
	var b strings.Builder
	b.WriteString(bold + d.Title() + bold)
	for _, l := range d.Lines(bold) {
		b.WriteString("\n• ")
		b.WriteString(l)
	}
	if len(d.Suggestions) == 0 {
		b.WriteString("\nNo suggestions in this run.")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
