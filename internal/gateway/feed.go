package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FeedAdapter keeps recent digests in memory and serves them over HTTP,
// including a long-poll endpoint that waits for the next digest.
type FeedAdapter struct {
	size    int
	created time.Time
	recent  []*Digest
	waiters map[string]chan *Digest
	timeout time.Duration
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewFeedAdapter creates a feed retaining the last size digests.
func NewFeedAdapter(size int, logger *zap.Logger) *FeedAdapter {
	if size <= 0 {
		size = 20
	}
	return &FeedAdapter{
		size:    size,
		created: time.Now(),
		waiters: make(map[string]chan *Digest),
		timeout: 60 * time.Second,
		logger:  logger,
	}
}

func (a *FeedAdapter) Platform() string { return "feed" }

func (a *FeedAdapter) Connect(_ context.Context) error { return nil }

func (a *FeedAdapter) Close() error { return nil }

// Status always reports connected; the feed has no remote end.
func (a *FeedAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	created := a.created
	return AdapterStatus{
		Platform:    "feed",
		Connected:   true,
		ConnectedAt: &created,
		Details:     fmt.Sprintf("retained=%d/%d waiting=%d", len(a.recent), a.size, len(a.waiters)),
	}
}

// Send records the digest and wakes every waiting long-poll request.
func (a *FeedAdapter) Send(_ context.Context, d *Digest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recent = append(a.recent, d)
	if len(a.recent) > a.size {
		a.recent = a.recent[len(a.recent)-a.size:]
	}
	for _, ch := range a.waiters {
		select {
		case ch <- d:
		default:
		}
	}
	return nil
}

// Recent returns the retained digests, newest last.
func (a *FeedAdapter) Recent() []*Digest {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Digest, len(a.recent))
	copy(out, a.recent)
	return out
}

// Routes returns a chi router with the feed endpoints.
func (a *FeedAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", a.handleList)
	r.Get("/next", a.handleNext)
	return r
}

func (a *FeedAdapter) handleList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.Recent())
}

// handleNext waits for the next digest.
func (a *FeedAdapter) handleNext(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	ch := make(chan *Digest, 1)

	a.mu.Lock()
	a.waiters[id] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.waiters, id)
		a.mu.Unlock()
	}()

	select {
	case d := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d)
	case <-time.After(a.timeout):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		return
	}
}
