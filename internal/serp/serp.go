package serp

import "context"

// Result is one ranked hit returned by a search provider.
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SERPProvider abstracts a web-search provider that returns ranked results
// for a free-text query. The limit parameter caps the number of results
// returned; results are ordered by the provider's relevance ranking.
type SERPProvider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}
