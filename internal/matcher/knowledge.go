package matcher

import (
	"errors"
	"fmt"

	"github.com/nidhogg/ticket-miner/internal/ticket"
	"github.com/nidhogg/ticket-miner/internal/vector"
)

// ErrEmptyKnowledgeBase is returned when there are no resolved tickets to
// build a knowledge base from.
var ErrEmptyKnowledgeBase = errors.New("knowledge base is empty: no resolved tickets")

// Space is the read-only view of a fitted vector space the matcher needs.
type Space interface {
	Transform(doc string) (vector.Vector, error)
	Document(i int) (vector.Vector, error)
}

// KnowledgeBase pairs resolved tickets with the vector space fitted on
// their clean text. Document i of Space is Tickets[i].
type KnowledgeBase struct {
	Tickets []ticket.ResolvedTicket
	Space   Space
}

// BuildKnowledgeBase fits a TF-IDF space over the resolved tickets.
func BuildKnowledgeBase(resolved []ticket.ResolvedTicket, opts vector.Options) (*KnowledgeBase, *vector.Vectorizer, error) {
	if len(resolved) == 0 {
		return nil, nil, ErrEmptyKnowledgeBase
	}
	vz, err := vector.NewVectorizer(opts)
	if err != nil {
		return nil, nil, err
	}
	docs := make([]string, len(resolved))
	for i, r := range resolved {
		docs[i] = r.CleanText
	}
	if err := vz.Fit(docs); err != nil {
		return nil, nil, fmt.Errorf("fit knowledge base: %w", err)
	}
	return &KnowledgeBase{Tickets: resolved, Space: vz}, vz, nil
}

// Candidates returns the indices, in knowledge base order, of entries
// sharing at least one category with categories.
func (kb *KnowledgeBase) Candidates(categories []string) []int {
	var idx []int
	for i, r := range kb.Tickets {
		if ticket.HasAnyCategory(categories, r.Categories) {
			idx = append(idx, i)
		}
	}
	return idx
}
