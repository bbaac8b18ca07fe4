package pipeline

import (
	"context"
	"log/slog"

	"github.com/FranksOps/newsdigest/internal/digest"
)

// AggregateStage produces the final digest. It currently passes summaries
// through unchanged; cross-article analysis such as deduplication or trend
// extraction belongs here.
type AggregateStage struct {
	logger *slog.Logger
}

// NewAggregateStage creates an aggregate stage.
func NewAggregateStage(logger *slog.Logger) *AggregateStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateStage{logger: logger.With("stage", "aggregate")}
}

func (a *AggregateStage) Name() string { return "aggregate" }

func (a *AggregateStage) Run(ctx context.Context, st State) Delta {
	final := make(digest.Digest, len(st.Summaries))
	copy(final, st.Summaries)
	a.logger.Info("digest ready", "entries", len(final))
	return Delta{FinalDigest: final}
}
