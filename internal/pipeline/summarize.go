package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"

	"github.com/panjf2000/ants/v2"

	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/llm"
	"github.com/FranksOps/newsdigest/internal/metrics"
)

// DefaultSummarizeConcurrency caps in-flight LLM calls.
const DefaultSummarizeConcurrency = 4

// DefaultMaxContentChars trims article text before it is sent to the model.
const DefaultMaxContentChars = 12000

const promptText = `You are an expert news analyst. Based on the following article content from the source URL provided,
generate a concise summary and three key bullet points.

Instructions:
1. The summary should be neutral, informative, and no more than 3 sentences.
2. The bullet points should highlight the most critical pieces of information.
3. Respond ONLY with a JSON object of the form:
{"source": "<the source URL>", "summary": "<summary>", "bullets": ["<point>", "<point>", "<point>"]}

Source URL: {{.Source}}

Article Content:
{{.Content}}
`

// DefaultPrompt is the summarization prompt template. It is executed with
// .Source and .Content.
var DefaultPrompt = template.Must(template.New("summarize").Parse(promptText))

type promptData struct {
	Source  string
	Content string
}

// SummarizeConfig tunes the summarize stage.
type SummarizeConfig struct {
	Concurrency int
	// Retries re-issues a prompt after an adapter or parse failure; 0 means
	// one attempt per article.
	Retries         int
	MaxContentChars int
	Prompt          *template.Template
}

// SummarizeStage asks the LLM for one structured summary per article.
type SummarizeStage struct {
	completer llm.Completer
	cfg       SummarizeConfig
	logger    *slog.Logger
}

// NewSummarizeStage creates a summarize stage.
func NewSummarizeStage(completer llm.Completer, cfg SummarizeConfig, logger *slog.Logger) *SummarizeStage {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSummarizeConcurrency
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if cfg.Prompt == nil {
		cfg.Prompt = DefaultPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummarizeStage{
		completer: completer,
		cfg:       cfg,
		logger:    logger.With("stage", "summarize"),
	}
}

func (s *SummarizeStage) Name() string { return "summarize" }

// Run summarizes st.ScrapedArticles. Articles whose summary cannot be
// produced are dropped; survivors keep the order of their articles.
func (s *SummarizeStage) Run(ctx context.Context, st State) Delta {
	summaries, err := s.Summarize(ctx, st.ScrapedArticles)
	if err != nil {
		s.logger.Error("summarize failed", "err", err)
		return Delta{Summaries: []digest.ArticleSummary{}}
	}
	s.logger.Info("generated summaries", "articles", len(st.ScrapedArticles), "summaries", len(summaries))
	return Delta{Summaries: summaries}
}

// Summarize runs at most Concurrency LLM calls at a time. Each worker fills
// the slot of its article's index; slots are compacted in index order.
func (s *SummarizeStage) Summarize(ctx context.Context, articles []digest.Article) ([]digest.ArticleSummary, error) {
	summaries := make([]digest.ArticleSummary, 0, len(articles))
	if len(articles) == 0 {
		return summaries, nil
	}

	pool, err := ants.NewPool(s.cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	slots := make([]*digest.ArticleSummary, len(articles))
	var wg sync.WaitGroup
	for i, a := range articles {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			summary, err := s.summarizeOne(ctx, a)
			if err != nil {
				s.logger.Warn("dropping article", "url", a.URL, "err", err)
				return
			}
			slots[i] = &summary
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("dropping article", "url", a.URL, "err", fmt.Errorf("submit: %w", err))
		}
	}
	wg.Wait()

	for _, slot := range slots {
		if slot != nil {
			summaries = append(summaries, *slot)
		}
	}
	return summaries, nil
}

func (s *SummarizeStage) summarizeOne(ctx context.Context, a digest.Article) (digest.ArticleSummary, error) {
	prompt, err := s.render(a)
	if err != nil {
		return digest.ArticleSummary{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return digest.ArticleSummary{}, err
		}

		metrics.SummarizeInFlight.Inc()
		raw, err := s.completer.Complete(ctx, prompt)
		metrics.SummarizeInFlight.Dec()
		if err != nil {
			metrics.SummarizeCallsTotal.WithLabelValues("adapter_error").Inc()
			lastErr = err
			s.logger.Debug("completion failed", "url", a.URL, "attempt", attempt+1, "err", err)
			continue
		}

		summary, err := digest.ParseSummary(raw)
		if err != nil {
			metrics.SummarizeCallsTotal.WithLabelValues("invalid").Inc()
			lastErr = err
			s.logger.Debug("unparsable completion", "url", a.URL, "attempt", attempt+1, "err", err)
			continue
		}

		metrics.SummarizeCallsTotal.WithLabelValues("ok").Inc()
		return summary, nil
	}
	return digest.ArticleSummary{}, lastErr
}

func (s *SummarizeStage) render(a digest.Article) (string, error) {
	content := a.Content
	if r := []rune(content); len(r) > s.cfg.MaxContentChars {
		content = string(r[:s.cfg.MaxContentChars])
	}

	var b strings.Builder
	if err := s.cfg.Prompt.Execute(&b, promptData{Source: a.URL, Content: content}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
