package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FranksOps/newsdigest/internal/storage"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_search_requests_total",
			Help: "Total number of search adapter calls by outcome",
		},
		[]string{"outcome"},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsdigest_search_results",
			Help:    "Number of usable URLs returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	ScrapeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_scrape_requests_total",
			Help: "Total number of article fetches executed",
		},
		[]string{"host", "status", "detected", "detection_src"},
	)

	ScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsdigest_scrape_duration_seconds",
			Help:    "Duration of article fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"host"},
	)

	ScrapeBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_scrape_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"host"},
	)

	ScrapeDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_scrape_drops_total",
			Help: "URLs that contributed no article, by reason",
		},
		[]string{"reason"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	SummarizeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_summarize_calls_total",
			Help: "Total number of LLM summarization attempts by outcome",
		},
		[]string{"outcome"},
	)

	SummarizeInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsdigest_summarize_in_flight",
			Help: "LLM summarization calls currently in flight",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsdigest_run_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_http_requests_total",
			Help: "HTTP requests served by route and status code",
		},
		[]string{"route", "code"},
	)
)

// RecordScrape updates the fetch metrics given a ScrapeResult and host.
func RecordScrape(host string, res *storage.ScrapeResult) {
	if res == nil {
		return
	}

	statusStr := strconv.Itoa(res.StatusCode)
	if res.Error != "" {
		statusStr = "error"
	}

	ScrapeRequestsTotal.WithLabelValues(host, statusStr, strconv.FormatBool(res.DetectedBot), res.DetectionSrc).Inc()
	ScrapeDuration.WithLabelValues(host).Observe(res.Duration.Seconds())
	ScrapeBytesTotal.WithLabelValues(host).Add(float64(len(res.Body)))
}

// RecordRun observes a finished pipeline run. empty marks a run whose digest
// came back with no summaries.
func RecordRun(d time.Duration, empty bool) {
	result := "ok"
	if empty {
		result = "empty"
	}
	RunDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server is a standalone listener for /metrics, used when metrics should
// not share the API port.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start begins listening on addr and exposes /metrics.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Error("metrics server failed", "component", "metrics", "err", err)
		}
	}()

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
