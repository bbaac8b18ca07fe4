package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/newsdigest/internal/metrics"
	"github.com/FranksOps/newsdigest/internal/serp"
)

// DefaultSearchLimit is the number of URLs requested from the search provider.
const DefaultSearchLimit = 5

// SearchStage turns the query into a ranked list of candidate URLs.
type SearchStage struct {
	provider serp.SERPProvider
	limit    int
	logger   *slog.Logger
}

// NewSearchStage creates a search stage. limit <= 0 uses DefaultSearchLimit.
func NewSearchStage(provider serp.SERPProvider, limit int, logger *slog.Logger) *SearchStage {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchStage{
		provider: provider,
		limit:    limit,
		logger:   logger.With("stage", "search"),
	}
}

func (s *SearchStage) Name() string { return "search" }

// Run queries the provider and keeps at most limit usable URLs in provider
// order. A provider failure yields an empty list, not an error.
func (s *SearchStage) Run(ctx context.Context, st State) Delta {
	results, err := s.provider.Search(ctx, st.Query, s.limit)
	if err != nil {
		s.logger.Error("search failed", "query", st.Query, "err", err)
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		metrics.SearchResults.Observe(0)
		return Delta{URLs: []string{}}
	}
	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()

	urls := make([]string, 0, min(len(results), s.limit))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if len(urls) == s.limit {
			break
		}
		u, ok := normalizeURL(r.URL)
		if !ok {
			s.logger.Debug("skipping unusable result", "url", r.URL)
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	s.logger.Info("found urls", "count", len(urls))
	metrics.SearchResults.Observe(float64(len(urls)))
	return Delta{URLs: urls}
}

// normalizeURL keeps absolute http(s) URLs and strips fragments.
func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}
