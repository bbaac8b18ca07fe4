package pipeline

import (
	"slices"

	"github.com/FranksOps/newsdigest/internal/digest"
)

// State is the record threaded through one pipeline invocation. Stages see
// it as a value and never mutate it; the driver builds a new State from each
// stage's Delta.
type State struct {
	Query           string
	URLs            []string
	ScrapedArticles []digest.Article
	Summaries       []digest.ArticleSummary
	FinalDigest     digest.Digest
}

// Delta is the partial update returned by a stage. A nil field leaves the
// corresponding State field untouched, so a field once set is never cleared.
type Delta struct {
	URLs            []string
	ScrapedArticles []digest.Article
	Summaries       []digest.ArticleSummary
	FinalDigest     digest.Digest
}

// Apply returns a new State with d folded in. Slices are copied so the
// returned State shares no backing arrays with d or s.
func (s State) Apply(d Delta) State {
	next := State{
		Query:           s.Query,
		URLs:            slices.Clone(s.URLs),
		ScrapedArticles: slices.Clone(s.ScrapedArticles),
		Summaries:       cloneSummaries(s.Summaries),
		FinalDigest:     cloneSummaries(s.FinalDigest),
	}

	if d.URLs != nil {
		next.URLs = slices.Clone(d.URLs)
	}
	if d.ScrapedArticles != nil {
		next.ScrapedArticles = slices.Clone(d.ScrapedArticles)
	}
	if d.Summaries != nil {
		next.Summaries = cloneSummaries(d.Summaries)
	}
	if d.FinalDigest != nil {
		next.FinalDigest = cloneSummaries(d.FinalDigest)
	}
	return next
}

// cloneSummaries deep-copies summaries including their bullet slices.
func cloneSummaries[S ~[]digest.ArticleSummary](in S) S {
	if in == nil {
		return nil
	}
	out := make(S, len(in))
	for i, s := range in {
		s.Bullets = slices.Clone(s.Bullets)
		out[i] = s
	}
	return out
}
