// Package pipeline runs the fixed search, scrape, summarize and aggregate
// stages that turn a query into a news digest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/metrics"
	"github.com/FranksOps/newsdigest/internal/storage"
)

var (
	// ErrEmptyQuery is returned by Run for a blank query.
	ErrEmptyQuery = errors.New("pipeline: query is empty")
	// ErrMissingStage is returned when a stage dependency is nil.
	ErrMissingStage = errors.New("pipeline: stage is nil")
)

// Stage is one step of the pipeline. It reads a snapshot of the state and
// returns the fields it produced.
type Stage interface {
	Name() string
	Run(ctx context.Context, st State) Delta
}

// Pipeline composes the four stages in a fixed order. It holds no
// per-invocation state and is safe for concurrent use.
type Pipeline struct {
	stages  []Stage
	history storage.Backend
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHistory records every run in b. Save failures are logged only.
func WithHistory(b storage.Backend) Option {
	return func(p *Pipeline) { p.history = b }
}

// WithLogger sets the pipeline logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a pipeline from its stages.
func New(search, scrape, summarize, aggregate Stage, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		stages: []Stage{search, scrape, summarize, aggregate},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.logger = p.logger.With("component", "pipeline")
	return p, nil
}

func (p *Pipeline) validate() error {
	if len(p.stages) != 4 {
		return ErrMissingStage
	}
	for i, s := range p.stages {
		if isNil(s) {
			return fmt.Errorf("%w: position %d", ErrMissingStage, i)
		}
	}
	return nil
}

// isNil catches typed nil pointers stored in a Stage.
func isNil(s Stage) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Run executes the stages strictly in sequence and returns the final state.
// Empty intermediate results flow forward; the only errors are a blank
// query or a misconfigured pipeline.
func (p *Pipeline) Run(ctx context.Context, query string) (State, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return State{}, ErrEmptyQuery
	}
	if p == nil {
		return State{}, ErrMissingStage
	}
	if err := p.validate(); err != nil {
		return State{}, err
	}

	start := time.Now()
	logger := p.logger.With("run_id", uuid.NewString())
	st := State{Query: query}

	for _, stage := range p.stages {
		stageStart := time.Now()
		logger.Info("stage started", "stage", stage.Name())
		st = st.Apply(stage.Run(ctx, st))
		logger.Info("stage finished", "stage", stage.Name(), "elapsed", time.Since(stageStart))
	}

	elapsed := time.Since(start)
	metrics.RecordRun(elapsed, len(st.FinalDigest) == 0)
	logger.Info("run complete",
		"query", query,
		"urls", len(st.URLs),
		"articles", len(st.ScrapedArticles),
		"summaries", len(st.FinalDigest),
		"elapsed", elapsed)

	p.record(ctx, st, start, elapsed)
	return st, nil
}

func (p *Pipeline) record(ctx context.Context, st State, start time.Time, elapsed time.Duration) {
	if p.history == nil {
		return
	}

	run := &storage.Run{
		ID:              uuid.NewString(),
		Query:           st.Query,
		CreatedAt:       start.UTC(),
		Duration:        elapsed,
		URLsFound:       len(st.URLs),
		ArticlesScraped: len(st.ScrapedArticles),
		Digest:          st.FinalDigest,
	}
	if run.Digest == nil {
		run.Digest = []digest.ArticleSummary{}
	}
	if len(st.FinalDigest) == 0 {
		run.Error = "empty digest"
	}

	// the caller may already be gone; history is written regardless
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.history.Save(saveCtx, run); err != nil {
		p.logger.Error("failed to save run", "query", st.Query, "err", err)
	}
}
