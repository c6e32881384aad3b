package ticket

// Comment is a single entry of a ticket's comment thread.
type Comment struct {
	Author  string  `json:"author,omitempty"`
	Body    *string `json:"body,omitempty"` // nil when the source had no body field
	Created string  `json:"created,omitempty"`
}

// Ticket is a raw support ticket as supplied by the loader. Immutable once loaded.
type Ticket struct {
	Key         string    `json:"key"`
	Summary     string    `json:"summary"`
	Description *string   `json:"description,omitempty"`
	Status      string    `json:"status"`
	Comments    []Comment `json:"comments,omitempty"`

	// CommentsMalformed is set when the source carried a comment field
	// that was not a list of comment objects.
	CommentsMalformed bool `json:"-"`
}

// FullText joins summary and description the way categorization and
// indexing expect them.
func (t Ticket) FullText() string {
	desc := ""
	if t.Description != nil {
		desc = *t.Description
	}
	return t.Summary + " " + desc
}

// NormalizedTicket is a Ticket with its derived clean text and categories.
type NormalizedTicket struct {
	Ticket
	CleanText  string   `json:"clean_text"`
	Categories []string `json:"categories"` // never empty, rule declaration order
}

// ResolvedTicket is a knowledge base entry.
type ResolvedTicket struct {
	NormalizedTicket
	Solution string `json:"solution"`
}

// Suggestion is the matcher's verdict for one open ticket.
type Suggestion struct {
	OpenKey           string   `json:"open_key"`
	OpenSummary       string   `json:"open_summary"`
	Categories        []string `json:"categories"`
	SuggestedKey      *string  `json:"suggested_key"`
	SuggestedSolution *string  `json:"suggested_solution"`
	Similarity        float64  `json:"similarity"`
}

// Matched reports whether a prior resolution was proposed.
func (s Suggestion) Matched() bool { return s.SuggestedKey != nil }

// NoMatch builds the empty suggestion for an open ticket.
func NoMatch(t NormalizedTicket) Suggestion {
	return Suggestion{
		OpenKey:     t.Key,
		OpenSummary: t.Summary,
		Categories:  t.Categories,
	}
}

// HasAnyCategory reports whether labels and other share at least one label.
func HasAnyCategory(labels, other []string) bool {
	for _, a := range labels {
		for _, b := range other {
			if a == b {
				return true
			}
		}
	}
	return false
}
