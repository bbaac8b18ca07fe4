package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/newsdigest/internal/bypass"
	"github.com/FranksOps/newsdigest/internal/fingerprint"
	"github.com/FranksOps/newsdigest/internal/metrics"
	"github.com/FranksOps/newsdigest/internal/storage"
	"github.com/FranksOps/newsdigest/pkg/httpclient"
	"github.com/FranksOps/newsdigest/pkg/proxy"
	"github.com/FranksOps/newsdigest/pkg/ratelimit"
	"github.com/FranksOps/newsdigest/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 10
	DefaultMaxBodyBytes = 5 << 20
)

// FetchConfig configures article fetches.
type FetchConfig struct {
	// Timeout bounds one fetch including redirects and body read.
	Timeout time.Duration
	// MaxRedirects is the redirect hop limit; 0 means DefaultMaxRedirects,
	// negative disables following.
	MaxRedirects int
	MaxBodyBytes int64
	UseCookieJar bool
	// UseEnvProxy falls back to HTTP_PROXY/HTTPS_PROXY when no pool proxy is set.
	UseEnvProxy bool
	ProxyPool   *proxy.Pool
	UAPool      *useragent.Pool
	Fingerprint fingerprint.Profile
	Limiter     *ratelimit.HostLimiter
	Signatures  []bypass.Signature
	// InsecureSkipVerify disables certificate checks; tests only.
	InsecureSkipVerify bool
}

// pageHeader is what a browser sends when navigating to an article.
var pageHeader = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.5"},
}

// Fetcher performs single URL fetches.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher initializes a new Fetcher with the given configuration.
// A single client is held across requests so connections and cookie jars
// (if configured) are reused for the lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil, useragent.ModeSequential)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}
	if cfg.Signatures == nil {
		cfg.Signatures = bypass.DefaultSignatures()
	}

	// Per-request proxy rotation: the pool's choice rides on the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		if cfg.UseEnvProxy {
			return http.ProxyFromEnvironment(req)
		}
		return nil, nil
	}

	transport, err := fingerprint.Transport(fingerprint.Options{
		Profile:            cfg.Fingerprint,
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Header:       pageHeader,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
	}, nil
}

// UserAgent returns the next User-Agent the fetcher would send.
func (f *Fetcher) UserAgent() string {
	return f.config.UAPool.Pick()
}

// Fetch executes a GET request to the target URL, tracking the duration and
// capturing the response into a storage.ScrapeResult. Network failures are
// recorded in ScrapeResult.Error rather than returned.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*storage.ScrapeResult, error) {
	start := time.Now()
	result := &storage.ScrapeResult{
		ID:        uuid.NewString(),
		URL:       targetURL,
		Method:    http.MethodGet,
		CreatedAt: start.UTC(),
	}
	defer func() {
		result.Duration = time.Since(start)
		metrics.RecordScrape(hostOf(targetURL), result)
	}()

	if err := f.config.Limiter.Wait(ctx, targetURL); err != nil {
		result.Error = fmt.Sprintf("rate limiter failed: %v", err)
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result, nil
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
		if activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	req.Header.Set("User-Agent", f.config.UAPool.Pick())

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.String()).Inc()
		}
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read body: %v", err)
	}

	result.StatusCode = resp.StatusCode
	result.Headers = resp.Header
	result.Body = body

	bypass.Analyze(result, f.config.Signatures)

	return result, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
