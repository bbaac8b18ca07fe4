// Package server exposes the digest pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/metrics"
	"github.com/FranksOps/newsdigest/internal/pipeline"
	"github.com/FranksOps/newsdigest/internal/report"
	"github.com/FranksOps/newsdigest/internal/storage"
)

// EmptyDigestDetail is returned when a run produced no summaries.
const EmptyDigestDetail = "Failed to generate news digest. The workflow did not complete successfully."

const (
	DefaultMinQueryLength = 5
	defaultHistoryLimit   = 20
	maxHistoryLimit       = 200
	maxRequestBytes       = 64 << 10
)

// Digester produces the final pipeline state for a query.
type Digester interface {
	Run(ctx context.Context, query string) (pipeline.State, error)
}

// Config tunes the HTTP boundary.
type Config struct {
	MinQueryLength int
	// RequestTimeout bounds one pipeline run; 0 means no limit beyond the
	// client connection.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// History backs GET /digests; nil disables the route.
	History storage.Backend
	// ServeMetrics mounts /metrics on this server.
	ServeMetrics bool
}

// Server routes digest requests to a Digester.
type Server struct {
	digester Digester
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
}

type generateRequest struct {
	Query *string `json:"query"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// New creates a Server.
func New(d Digester, cfg Config, logger *slog.Logger) *Server {
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = DefaultMinQueryLength
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		digester: d,
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		mux:      http.NewServeMux(),
	}

	s.mux.Handle("POST /generate-digest", s.instrument("generate-digest", s.handleGenerate))
	s.mux.Handle("GET /healthz", s.instrument("healthz", s.handleHealth))
	if cfg.History != nil {
		s.mux.Handle("GET /digests", s.instrument("digests", s.handleHistory))
	}
	if cfg.ServeMetrics {
		s.mux.Handle("GET /metrics", metrics.Handler())
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// in-flight runs see the base context cancelled too, so this is short
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Query == nil {
		writeError(w, http.StatusUnprocessableEntity, "query: field required")
		return
	}
	query := strings.TrimSpace(*req.Query)
	if n := utf8.RuneCountInString(query); n < s.cfg.MinQueryLength {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("query: should have at least %d characters", s.cfg.MinQueryLength))
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	st, err := s.digester.Run(ctx, query)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("digest run failed", "query", query, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(st.FinalDigest) == 0 {
		s.logger.Warn("digest run produced nothing", "query", query, "urls", len(st.URLs))
		writeError(w, http.StatusInternalServerError, EmptyDigestDetail)
		return
	}

	writeJSON(w, http.StatusOK, report.Report{
		Digest: st.FinalDigest,
		Metadata: digest.Metadata{
			Query:                 st.Query,
			ProcessingTimeSeconds: math.Round(elapsed.Seconds()*100) / 100,
			ArticlesFound:         len(st.URLs),
			ArticlesSummarized:    len(st.FinalDigest),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.Filter{
		Query: strings.TrimSpace(q.Get("query")),
		Limit: defaultHistoryLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, "limit: must be a positive integer")
			return
		}
		filter.Limit = min(n, maxHistoryLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "offset: must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	runs, err := s.cfg.History.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("history query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// instrument counts responses per route and turns panics into 500s.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panic", "route", route, "panic", p)
				if rec.status == 0 {
					writeError(rec, http.StatusInternalServerError, fmt.Sprint(p))
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}()
		h(rec, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}
