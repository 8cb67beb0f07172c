// Package webctx fetches live external context for queries that need
// information newer than the model's training data.
package webctx

import (
	"context"
	"strings"
)

// FallbackAdvisory is the prompt segment substituted when the live fetch
// fails or times out. The reply proceeds without external context.
const FallbackAdvisory = "Live web context is unavailable right now. Answer from general knowledge and say the information may be out of date."

// Fetcher retrieves a joined snippet of web content for a query.
type Fetcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Predicate decides whether a message needs live context at all.
type Predicate func(message string) bool

var liveContextKeywords = []string{
	"today", "tonight", "tomorrow", "yesterday", "now", "right now",
	"current", "currently", "latest", "recent", "news", "headline",
	"price", "stock", "score", "weather", "forecast", "temperature",
	"this week", "this month", "this year",
}

// NeedsLiveContext is the default gate: a cheap keyword heuristic over
// the lowercased message.
func NeedsLiveContext(message string) bool {
	m := strings.ToLower(message)
	for _, kw := range liveContextKeywords {
		if strings.Contains(m, kw) {
			return true
		}
	}
	return false
}
