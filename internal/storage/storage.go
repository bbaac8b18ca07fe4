package storage

import (
	"context"
	"slices"
	"time"

	"github.com/FranksOps/newsdigest/internal/digest"
)

// ScrapeResult represents the outcome of a single page fetch.
type ScrapeResult struct {
	ID           string
	URL          string
	Method       string
	StatusCode   int
	Headers      map[string][]string
	Body         []byte
	Duration     time.Duration
	DetectedBot  bool
	DetectionSrc string // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome"
	CreatedAt    time.Time
	Error        string // non-empty if the fetch failed before an HTTP response
}

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID              string                  `json:"id"`
	Query           string                  `json:"query"`
	CreatedAt       time.Time               `json:"created_at"`
	Duration        time.Duration           `json:"duration"`
	URLsFound       int                     `json:"urls_found"`
	ArticlesScraped int                     `json:"articles_scraped"`
	Digest          []digest.ArticleSummary `json:"digest"`
	Error           string                  `json:"error,omitempty"`
}

// Filter allows querying for specific runs.
type Filter struct {
	Query  string
	Since  *time.Time
	Limit  int
	Offset int
}

// Match reports whether r passes the filter's predicate fields. Limit and
// Offset are applied by the caller.
func (f Filter) Match(r *Run) bool {
	if f.Query != "" && r.Query != f.Query {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// SortNewestFirst orders runs by CreatedAt descending, keeping insertion
// order for equal timestamps.
func SortNewestFirst(runs []*Run) {
	slices.SortStableFunc(runs, func(a, b *Run) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// Page applies Offset and Limit to runs already ordered newest first.
func (f Filter) Page(runs []*Run) []*Run {
	if f.Offset > 0 {
		if f.Offset >= len(runs) {
			return []*Run{}
		}
		runs = runs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(runs) {
		runs = runs[:f.Limit]
	}
	return runs
}

// Backend defines the interface for storing and querying digest runs.
type Backend interface {
	Save(ctx context.Context, run *Run) error
	Query(ctx context.Context, filter Filter) ([]*Run, error)
	Close() error
}
