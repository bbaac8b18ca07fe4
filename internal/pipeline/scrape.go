package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/extract"
	"github.com/FranksOps/newsdigest/internal/metrics"
	"github.com/FranksOps/newsdigest/internal/storage"
)

// DefaultMinContentLength is the shortest extracted text, in characters,
// accepted as an article.
const DefaultMinContentLength = 300

// Fetcher retrieves a page. Network failures are reported in
// ScrapeResult.Error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*storage.ScrapeResult, error)
}

// RobotsChecker gates fetches on robots.txt.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, url string, userAgent string) (bool, error)
}

// DropReason says why a URL contributed no article.
type DropReason string

const (
	DropFetchError DropReason = "fetch_error"
	DropBadStatus  DropReason = "bad_status"
	DropChallenge  DropReason = "bot_challenge"
	DropRobots     DropReason = "robots_disallow"
	DropNotHTML    DropReason = "not_html"
	DropNoContent  DropReason = "no_content"
	DropTooShort   DropReason = "too_short"
)

// Outcome is the result of scraping one URL: an article, or the reason
// there is none.
type Outcome struct {
	URL     string
	Article digest.Article
	Dropped DropReason
	Detail  string
}

// OK reports whether the URL produced an article.
func (o Outcome) OK() bool { return o.Dropped == "" }

func dropped(url string, reason DropReason, format string, args ...any) Outcome {
	return Outcome{URL: url, Dropped: reason, Detail: fmt.Sprintf(format, args...)}
}

// ScrapeConfig tunes the scrape stage.
type ScrapeConfig struct {
	// Timeout bounds each URL independently; 0 leaves it to the fetcher.
	Timeout          time.Duration
	MinContentLength int
	Extract          extract.Options
	// Robots is optional; nil skips robots.txt checks.
	Robots      RobotsChecker
	RobotsAgent string
}

// ScrapeStage fetches every URL concurrently and extracts article text.
type ScrapeStage struct {
	fetcher Fetcher
	cfg     ScrapeConfig
	logger  *slog.Logger
}

// NewScrapeStage creates a scrape stage.
func NewScrapeStage(fetcher Fetcher, cfg ScrapeConfig, logger *slog.Logger) *ScrapeStage {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = DefaultMinContentLength
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "*"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScrapeStage{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With("stage", "scrape"),
	}
}

func (s *ScrapeStage) Name() string { return "scrape" }

// Run scrapes st.URLs and returns the surviving articles in input order.
func (s *ScrapeStage) Run(ctx context.Context, st State) Delta {
	outcomes := s.Scrape(ctx, st.URLs)

	articles := make([]digest.Article, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			articles = append(articles, o.Article)
		}
	}

	s.logger.Info("scraped articles", "urls", len(st.URLs), "articles", len(articles))
	return Delta{ScrapedArticles: articles}
}

// Scrape launches one fetch per URL at once and waits for all of them. Each
// goroutine writes only its own slot, so outcomes line up with urls.
func (s *ScrapeStage) Scrape(ctx context.Context, urls []string) []Outcome {
	outcomes := make([]Outcome, len(urls))

	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			outcomes[i] = s.scrapeOne(ctx, u)
			if o := outcomes[i]; !o.OK() {
				metrics.ScrapeDropsTotal.WithLabelValues(string(o.Dropped)).Inc()
				s.logger.Debug("dropped url", "url", u, "reason", o.Dropped, "detail", o.Detail)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *ScrapeStage) scrapeOne(ctx context.Context, url string) Outcome {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	if s.cfg.Robots != nil {
		allowed, err := s.cfg.Robots.IsAllowed(ctx, url, s.cfg.RobotsAgent)
		if err != nil {
			return dropped(url, DropRobots, "robots check: %v", err)
		}
		if !allowed {
			return dropped(url, DropRobots, "disallowed for %s", s.cfg.RobotsAgent)
		}
	}

	res, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return dropped(url, DropFetchError, "%v", err)
	}
	if res.Error != "" {
		return dropped(url, DropFetchError, "%s", res.Error)
	}
	if res.DetectedBot {
		return dropped(url, DropChallenge, "%s challenge", res.DetectionSrc)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return dropped(url, DropBadStatus, "status %d", res.StatusCode)
	}
	if !isHTML(res.Headers) {
		return dropped(url, DropNotHTML, "content type %q", contentType(res.Headers))
	}

	text, ok := extract.Extract(string(res.Body), s.cfg.Extract)
	if !ok {
		return dropped(url, DropNoContent, "no main text found")
	}
	if n := utf8.RuneCountInString(text); n < s.cfg.MinContentLength {
		return dropped(url, DropTooShort, "%d characters", n)
	}

	return Outcome{URL: url, Article: digest.Article{URL: url, Content: text}}
}

func contentType(headers map[string][]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// isHTML accepts HTML-ish and untyped responses.
func isHTML(headers map[string][]string) bool {
	ct := contentType(headers)
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return true
	}
	return mt == "text/html" || mt == "application/xhtml+xml" || mt == "text/plain"
}
