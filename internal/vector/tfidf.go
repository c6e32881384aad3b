package vector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/nidhogg/ticket-miner/internal/text"
)

var (
	// ErrNotFitted is returned when the vectorizer is used before Fit.
	ErrNotFitted = errors.New("vectorizer: not fitted")
	// ErrAlreadyFitted is returned by a second call to Fit.
	ErrAlreadyFitted = errors.New("vectorizer: already fitted")
	// ErrEmptyCorpus is returned when Fit receives no documents.
	ErrEmptyCorpus = errors.New("vectorizer: empty corpus")
	// ErrEmptyVocabulary is returned when no document yields an index term.
	ErrEmptyVocabulary = errors.New("vectorizer: empty vocabulary")
)

// Options configures vocabulary selection.
type Options struct {
	// MaxDocFreq drops terms present in more than this fraction of documents.
	MaxDocFreq float64 `json:"max_doc_freq"`
	// MinDocFreq drops terms present in fewer than this many documents.
	MinDocFreq int `json:"min_doc_freq"`
	// StopWords are excluded from the vocabulary. Empty disables filtering.
	StopWords []string `json:"stop_words,omitempty"`
}

// DefaultOptions returns max-df 0.85, min-df 1 and no stop words.
func DefaultOptions() Options {
	return Options{MaxDocFreq: 0.85, MinDocFreq: 1}
}

func (o Options) validate() error {
	if o.MaxDocFreq <= 0 || o.MaxDocFreq > 1 {
		return fmt.Errorf("vectorizer: max_doc_freq %.3f outside (0, 1]", o.MaxDocFreq)
	}
	if o.MinDocFreq < 1 {
		return fmt.Errorf("vectorizer: min_doc_freq %d below 1", o.MinDocFreq)
	}
	return nil
}

// FitStats describes how the vocabulary was derived.
type FitStats struct {
	Documents  int
	Candidates int // distinct terms before max-df pruning
	Vocabulary int
	Pruned     int
	// Unpruned is set when max-df pruning would have removed every term and
	// the full candidate vocabulary was kept instead.
	Unpruned bool
}

// Vectorizer is a TF-IDF vector space. It is written exactly once by Fit and
// is safe for concurrent reads afterwards.
type Vectorizer struct {
	opts Options
	stop map[string]struct{}

	fitting atomic.Bool
	fitted  atomic.Bool

	vocab map[string]int
	terms []string
	idf   []float64
	docs  []Vector
	stats FitStats
}

// NewVectorizer creates an unfitted vectorizer.
func NewVectorizer(opts Options) (*Vectorizer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var stop map[string]struct{}
	if len(opts.StopWords) > 0 {
		stop = make(map[string]struct{}, len(opts.StopWords))
		for _, w := range opts.StopWords {
			stop[strings.ToLower(w)] = struct{}{}
		}
	}
	return &Vectorizer{opts: opts, stop: stop}, nil
}

func (v *Vectorizer) analyze(doc string) []string {
	tokens := text.Tokenize(strings.ToLower(doc))
	if v.stop == nil {
		return tokens
	}
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, ok := v.stop[tok]; !ok {
			kept = append(kept, tok)
		}
	}
	return kept
}

// Fit builds the vocabulary, IDF weights and document vectors for docs.
func (v *Vectorizer) Fit(docs []string) error {
	if len(docs) == 0 {
		return ErrEmptyCorpus
	}
	if !v.fitting.CompareAndSwap(false, true) {
		return ErrAlreadyFitted
	}

	analyzed := make([][]string, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		tokens := v.analyze(doc)
		analyzed[i] = tokens
		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	n := len(docs)
	maxCount := v.opts.MaxDocFreq * float64(n)
	var candidates, kept []string
	for term, count := range df {
		if count < v.opts.MinDocFreq {
			continue
		}
		candidates = append(candidates, term)
		if float64(count) <= maxCount {
			kept = append(kept, term)
		}
	}

	stats := FitStats{Documents: n, Candidates: len(candidates)}
	if len(kept) == 0 && len(candidates) > 0 {
		kept = candidates
		stats.Unpruned = true
	}
	if len(kept) == 0 {
		v.fitting.Store(false)
		return ErrEmptyVocabulary
	}
	sort.Strings(kept)
	stats.Vocabulary = len(kept)
	stats.Pruned = len(candidates) - len(kept)

	v.vocab = make(map[string]int, len(kept))
	v.terms = kept
	v.idf = make([]float64, len(kept))
	for i, term := range kept {
		v.vocab[term] = i
		v.idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	v.docs = make([]Vector, n)
	for i, tokens := range analyzed {
		v.docs[i] = v.weigh(tokens)
	}
	v.stats = stats
	v.fitted.Store(true)
	return nil
}

// weigh turns tokens into an L2-normalized TF-IDF vector over the vocabulary.
func (v *Vectorizer) weigh(tokens []string) Vector {
	counts := make(map[int]int)
	for _, tok := range tokens {
		if idx, ok := v.vocab[tok]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return Vector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	var sum float64
	for i, idx := range indices {
		w := float64(counts[idx]) * v.idf[idx]
		values[i] = w
		sum += w * w
	}
	norm := math.Sqrt(sum)
	for i := range values {
		values[i] /= norm
	}
	return Vector{Indices: indices, Values: values}
}

// Transform projects text into the fitted space. Terms outside the
// vocabulary contribute nothing, so unknown text yields the zero vector.
func (v *Vectorizer) Transform(doc string) (Vector, error) {
	if !v.fitted.Load() {
		return Vector{}, ErrNotFitted
	}
	return v.weigh(v.analyze(doc)), nil
}

// Document returns the fitted vector of the i-th training document.
func (v *Vectorizer) Document(i int) (Vector, error) {
	if !v.fitted.Load() {
		return Vector{}, ErrNotFitted
	}
	if i < 0 || i >= len(v.docs) {
		return Vector{}, fmt.Errorf("vectorizer: document %d out of range [0, %d)", i, len(v.docs))
	}
	return v.docs[i], nil
}

// Fitted reports whether Fit has completed.
func (v *Vectorizer) Fitted() bool { return v.fitted.Load() }

// Len returns the number of training documents.
func (v *Vectorizer) Len() int { return len(v.docs) }

// Vocabulary returns the frozen vocabulary in dimension order.
func (v *Vectorizer) Vocabulary() []string {
	return append([]string(nil), v.terms...)
}

// Stats returns vocabulary statistics from Fit.
func (v *Vectorizer) Stats() FitStats { return v.stats }
