package storage

import (
	"testing"
	"time"
)

func TestFilter_Match(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	run := &Run{Query: "ai regulation", CreatedAt: now}

	if !(Filter{}).Match(run) {
		t.Errorf("empty filter should match everything")
	}
	if !(Filter{Query: "ai regulation", Since: &past}).Match(run) {
		t.Errorf("expected match on query and since")
	}
	if (Filter{Query: "other"}).Match(run) {
		t.Errorf("expected query mismatch")
	}
	future := now.Add(time.Hour)
	if (Filter{Since: &future}).Match(run) {
		t.Errorf("expected since mismatch")
	}
}

func TestFilter_Page(t *testing.T) {
	runs := []*Run{{ID: "3"}, {ID: "2"}, {ID: "1"}}

	got := Filter{Offset: 1, Limit: 1}.Page(runs)
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("expected [2], got %v", got)
	}

	if got := (Filter{Offset: 5}).Page(runs); len(got) != 0 {
		t.Errorf("expected empty page, got %d", len(got))
	}

	if got := (Filter{}).Page(runs); len(got) != 3 {
		t.Errorf("expected all runs, got %d", len(got))
	}
}
