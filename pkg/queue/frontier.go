package queue

import (
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/metrics"
	"qr-spider/pkg/models"
	"qr-spider/pkg/parse"
)

// Frontier is the FIFO work queue of one crawl run together with its
// visited set. A URL is accepted at most once over the lifetime of the
// frontier: Push rejects URLs that are already visited or already queued.
// URLs are compared by their normalized form (see parse.NormalizeURL).
type Frontier struct {
	mu      sync.Mutex
	items   []models.FrontierEntry
	head    int
	queued  map[string]struct{}
	visited map[string]struct{}
	closed  bool
	log     *logrus.Entry
}

// NewFrontier creates an empty frontier.
func NewFrontier(log *logrus.Entry) *Frontier {
	return &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
		log:     log,
	}
}

// Key returns the identity used for deduplication.
func Key(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parse.NormalizeURL(u)
}

// Push appends entry unless its URL was already visited or is waiting in
// the queue. Returns whether the entry was accepted.
func (f *Frontier) Push(entry models.FrontierEntry) bool {
	key := Key(entry.URL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		f.log.Debugf("Attempted to push to closed frontier: %s", entry.URL)
		return false
	}
	if _, ok := f.visited[key]; ok {
		return false
	}
	if _, ok := f.queued[key]; ok {
		return false
	}
	f.queued[key] = struct{}{}
	f.items = append(f.items, entry)
	metrics.FrontierSize.Inc()
	return true
}

// Pop removes and returns the oldest entry. It never blocks; ok is false
// when the queue is empty.
func (f *Frontier) Pop() (entry models.FrontierEntry, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head >= len(f.items) {
		return models.FrontierEntry{}, false
	}
	entry = f.items[f.head]
	f.items[f.head] = models.FrontierEntry{}
	f.head++
	// compact once the consumed prefix dominates the backing array
	if f.head > 64 && f.head*2 > len(f.items) {
		f.items = append([]models.FrontierEntry(nil), f.items[f.head:]...)
		f.head = 0
	}
	delete(f.queued, Key(entry.URL))
	metrics.FrontierSize.Dec()
	return entry, true
}

// MarkVisited records rawURL as visited. Returns false if it already was.
func (f *Frontier) MarkVisited(rawURL string) bool {
	key := Key(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.visited[key]; ok {
		return false
	}
	f.visited[key] = struct{}{}
	return true
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items) - f.head
}

// Close discards queued entries and rejects further pushes. MarkVisited
// keeps working against the retained visited set.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	metrics.FrontierSize.Sub(float64(len(f.items) - f.head))
	f.items = nil
	f.head = 0
	f.queued = make(map[string]struct{})
}
