package fetch

import (
	"context"
	"sync"
)

// CountingFetcher wraps a Fetcher and counts calls per URL.
type CountingFetcher struct {
	inner Fetcher

	mu     sync.Mutex
	counts map[string]int
	total  int
}

func NewCountingFetcher(inner Fetcher) *CountingFetcher {
	return &CountingFetcher{inner: inner, counts: make(map[string]int)}
}

func (f *CountingFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.counts[rawURL]++
	f.total++
	f.mu.Unlock()
	return f.inner.Fetch(ctx, rawURL)
}

// Count returns how often rawURL was fetched.
func (f *CountingFetcher) Count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[rawURL]
}

// Total returns the number of fetches across all URLs.
func (f *CountingFetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// Reset zeroes all counters.
func (f *CountingFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[string]int)
	f.total = 0
}
