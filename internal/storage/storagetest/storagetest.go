// Package storagetest holds a behavioural suite shared by the storage
// backends.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/storage"
)

// Exercise saves two runs for the same query and checks filtering,
// ordering and paging against b. b must be empty.
func Exercise(t *testing.T, b storage.Backend) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	run1 := &storage.Run{
		ID:        "run1",
		Query:     "ocean shipping",
		CreatedAt: now.Add(-2 * time.Hour),
		Duration:  10 * time.Millisecond,
		URLsFound: 0,
		Digest:    []digest.ArticleSummary{},
		Error:     "empty digest",
	}
	run2 := &storage.Run{
		ID:              "run2",
		Query:           "ocean shipping",
		CreatedAt:       now.Add(-1 * time.Hour),
		Duration:        20 * time.Millisecond,
		URLsFound:       4,
		ArticlesScraped: 2,
		Digest: []digest.ArticleSummary{
			{Source: "https://example.com/1", Summary: "Freight rates fell.", Bullets: []string{"rates", "ports"}},
			{Source: "https://example.com/2", Summary: "A canal reopened.", Bullets: []string{}},
		},
	}
	run3 := &storage.Run{
		ID:        "run3",
		Query:     "other topic",
		CreatedAt: now.Add(-3 * time.Hour),
		Digest:    []digest.ArticleSummary{},
	}

	for _, r := range []*storage.Run{run1, run2, run3} {
		if err := b.Save(ctx, r); err != nil {
			t.Fatalf("Failed to save %s: %v", r.ID, err)
		}
	}

	byQuery, err := b.Query(ctx, storage.Filter{Query: "ocean shipping"})
	if err != nil {
		t.Fatalf("Failed to query by Query: %v", err)
	}
	if len(byQuery) != 2 {
		t.Fatalf("Expected 2 runs for query filter, got %d", len(byQuery))
	}
	if byQuery[0].ID != "run2" {
		t.Errorf("Expected run2 first, got %s", byQuery[0].ID)
	}

	got := byQuery[0]
	if got.Duration != run2.Duration || got.URLsFound != 4 || got.ArticlesScraped != 2 {
		t.Errorf("unexpected run fields: %+v", got)
	}
	if len(got.Digest) != 2 || got.Digest[0].Summary != "Freight rates fell." || len(got.Digest[0].Bullets) != 2 {
		t.Errorf("unexpected digest: %+v", got.Digest)
	}
	if !got.CreatedAt.Equal(run2.CreatedAt) {
		t.Errorf("Expected CreatedAt %v, got %v", run2.CreatedAt, got.CreatedAt)
	}
	if byQuery[1].Error != "empty digest" {
		t.Errorf("Expected error to round-trip, got %q", byQuery[1].Error)
	}

	past := now.Add(-90 * time.Minute)
	since, err := b.Query(ctx, storage.Filter{Since: &past})
	if err != nil {
		t.Fatalf("Failed to query by Since: %v", err)
	}
	if len(since) != 1 || since[0].ID != "run2" {
		t.Fatalf("Expected only run2 for Since filter, got %d runs", len(since))
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(all))
	}
	if all[0].ID != "run2" || all[2].ID != "run3" {
		t.Errorf("Expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	limited, err := b.Query(ctx, storage.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("Failed to query limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(limited))
	}

	offset, err := b.Query(ctx, storage.Filter{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("Failed to query offset: %v", err)
	}
	if len(offset) != 1 || offset[0].ID != "run1" {
		t.Errorf("Expected run1 for offset 1, got %v", offset)
	}
}
