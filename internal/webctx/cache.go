package webctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

const defaultResultTTL = 5 * time.Minute

// CachedFetcher wraps another Fetcher with a short-lived result cache so
// repeated identical queries do not hit the upstream API.
type CachedFetcher struct {
	inner Fetcher
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCachedFetcher(inner Fetcher, ttl time.Duration) (*CachedFetcher, error) {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     8 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &CachedFetcher{inner: inner, cache: cache, ttl: ttl}, nil
}

func (f *CachedFetcher) Search(ctx context.Context, query string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if v, ok := f.cache.Get(key); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}

	result, err := f.inner.Search(ctx, query)
	if err != nil {
		return "", err
	}
	// Cost is the payload size so large snippets evict sooner.
	f.cache.SetWithTTL(key, result, int64(len(result)), f.ttl)
	return result, nil
}

// Close releases the cache's background goroutines.
func (f *CachedFetcher) Close() {
	f.cache.Close()
}
