package corpus

import (
	"github.com/nidhogg/ticket-miner/internal/categorizer"
	"github.com/nidhogg/ticket-miner/internal/text"
	"github.com/nidhogg/ticket-miner/internal/ticket"
)

const (
	// MissingBody is the solution used when the last comment has no body.
	MissingBody = "N/A"
	// NoSolution is the solution used when a ticket has no usable comments.
	NoSolution = "Solução não registada em comentário."
)

// DefaultResolvedStatuses lists the statuses that mark a ticket as resolved.
func DefaultResolvedStatuses() []string {
	return []string{"Concluído", "Resolvido", "Fechado", "Done"}
}

// Splitter normalizes and categorizes tickets and partitions them into the
// open set and the knowledge base.
type Splitter struct {
	categorizer *categorizer.Categorizer
	resolved    map[string]struct{}
}

// NewSplitter creates a Splitter. Status matching is exact and case-sensitive.
func NewSplitter(cat *categorizer.Categorizer, resolvedStatuses []string) *Splitter {
	set := make(map[string]struct{}, len(resolvedStatuses))
	for _, s := range resolvedStatuses {
		set[s] = struct{}{}
	}
	return &Splitter{categorizer: cat, resolved: set}
}

func (s *Splitter) Categorizer() *categorizer.Categorizer { return s.categorizer }

// IsResolved reports whether status is in the resolved allowlist.
func (s *Splitter) IsResolved(status string) bool {
	_, ok := s.resolved[status]
	return ok
}

// Normalize derives clean text and categories for a single ticket.
func (s *Splitter) Normalize(t ticket.Ticket) ticket.NormalizedTicket {
	clean := text.Normalize(t.FullText())
	return ticket.NormalizedTicket{
		Ticket:     t,
		CleanText:  clean,
		Categories: s.categorizer.Classify(clean),
	}
}

// Split partitions records, preserving input order on both sides. Every
// record lands in exactly one of the two results.
func (s *Splitter) Split(records []ticket.Ticket) (open []ticket.NormalizedTicket, resolved []ticket.ResolvedTicket) {
	open = make([]ticket.NormalizedTicket, 0, len(records))
	for _, rec := range records {
		nt := s.Normalize(rec)
		if s.IsResolved(rec.Status) {
			resolved = append(resolved, ticket.ResolvedTicket{
				NormalizedTicket: nt,
				Solution:         ExtractSolution(rec),
			})
			continue
		}
		open = append(open, nt)
	}
	return open, resolved
}

// ExtractSolution returns the body of the ticket's last comment, MissingBody
// when that comment has no body, or NoSolution when there are no usable
// comments.
func ExtractSolution(t ticket.Ticket) string {
	if t.CommentsMalformed || len(t.Comments) == 0 {
		return NoSolution
	}
	last := t.Comments[len(t.Comments)-1]
	if last.Body == nil {
		return MissingBody
	}
	return *last.Body
}
