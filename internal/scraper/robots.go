package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsTxtAuditor fetches and caches robots.txt per origin and answers
// whether a URL may be fetched.
type RobotsTxtAuditor struct {
	fetcher *Fetcher
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotsEntry
}

// robotsEntry is filled once; concurrent callers for the same origin wait on
// ready instead of fetching twice. An entry whose fetch ran under a cancelled
// context is marked stale and dropped from the cache.
type robotsEntry struct {
	ready chan struct{}
	data  *robotstxt.RobotsData // nil means allow all
	stale bool
}

// NewRobotsTxtAuditor creates a new instance.
func NewRobotsTxtAuditor(fetcher *Fetcher, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsTxtAuditor{
		fetcher: fetcher,
		logger:  logger.With("component", "robots"),
		cache:   make(map[string]*robotsEntry),
	}
}

// IsAllowed reports whether targetURL may be fetched by userAgent. A
// missing, unreachable, or unparsable robots.txt allows everything.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	data := r.lookup(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, userAgent), nil
}

func (r *RobotsTxtAuditor) lookup(ctx context.Context, origin string) *robotstxt.RobotsData {
	for {
		r.mu.Lock()
		entry, ok := r.cache[origin]
		if !ok {
			entry = &robotsEntry{ready: make(chan struct{})}
			r.cache[origin] = entry
		}
		r.mu.Unlock()

		if !ok {
			return r.fill(ctx, origin, entry)
		}

		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil
		}
		if !entry.stale {
			return entry.data
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *RobotsTxtAuditor) fill(ctx context.Context, origin string, entry *robotsEntry) *robotstxt.RobotsData {
	defer close(entry.ready)
	entry.data = r.fetch(ctx, origin)
	if ctx.Err() != nil {
		entry.stale = true
		r.mu.Lock()
		if r.cache[origin] == entry {
			delete(r.cache, origin)
		}
		r.mu.Unlock()
	}
	return entry.data
}

func (r *RobotsTxtAuditor) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	result, _ := r.fetcher.Fetch(ctx, origin+"/robots.txt")
	if result.Error != "" {
		r.logger.Debug("robots.txt fetch failed, defaulting to allow", "origin", origin, "err", result.Error)
		return nil
	}

	// robotstxt maps 4xx to allow-all and 5xx to disallow-all
	data, err := robotstxt.FromStatusAndBytes(result.StatusCode, result.Body)
	if err != nil {
		r.logger.Debug("robots.txt unparsable, defaulting to allow", "origin", origin, "err", err)
		return nil
	}
	return data
}
