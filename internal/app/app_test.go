package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/newsdigest/internal/config"
	"github.com/FranksOps/newsdigest/internal/serp"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSearch struct{}

func (stubSearch) Search(ctx context.Context, query string, limit int) ([]serp.Result, error) {
	return nil, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return `{"source":"s","summary":"x","bullets":[]}`, nil
}

func TestOpenHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		driver string
		dsn    string
	}{
		{config.DriverSQLite, filepath.Join(dir, "runs.db")},
		{config.DriverJSON, filepath.Join(dir, "runs.ndjson")},
		{config.DriverCSV, filepath.Join(dir, "runs.csv")},
		{config.DriverBadger, filepath.Join(dir, "badger")},
		{config.DriverBadger, ""},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			b, err := OpenHistory(ctx, config.StorageConfig{Driver: tt.driver, DSN: tt.dsn}, quietLogger())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b == nil {
				t.Fatal("expected a backend")
			}
			if err := b.Close(); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}

	b, err := OpenHistory(ctx, config.StorageConfig{Driver: config.DriverNone}, nil)
	if err != nil || b != nil {
		t.Errorf("expected nil backend for none, got %v %v", b, err)
	}
	if _, err := OpenHistory(ctx, config.StorageConfig{Driver: "mongo"}, nil); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestNew_WithDeps(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: config.DriverJSON, DSN: filepath.Join(t.TempDir(), "runs.ndjson")}

	a, err := New(context.Background(), cfg, Deps{Search: stubSearch{}, Completer: stubCompleter{}}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if a.Pipeline == nil || a.History == nil {
		t.Fatalf("expected pipeline and history, got %+v", a)
	}

	h := a.Server().Handler()
	for _, path := range []string{"/healthz", "/digests", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestNew_RequiresSearchKey(t *testing.T) {
	cfg := config.Default()
	_, err := New(context.Background(), cfg, Deps{Completer: stubCompleter{}}, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "search adapter") {
		t.Fatalf("expected search adapter error, got %v", err)
	}
}

func TestNew_BuildsLLMFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.BaseURL = "http://127.0.0.1:1/v1"
	a, err := New(context.Background(), cfg, Deps{Search: stubSearch{}}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()
	if a.History != nil {
		t.Error("expected no history for driver none")
	}
}

func TestNewFetcher(t *testing.T) {
	sc := config.Default().Scrape
	sc.Proxies = []string{"10.0.0.1:3128"}
	sc.UserAgentMode = "random"
	sc.RPS = 2
	if _, err := NewFetcher(sc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sc.Fingerprint = "netscape"
	if _, err := NewFetcher(sc); err == nil {
		t.Error("expected error for unknown fingerprint")
	}

	sc = config.Default().Scrape
	sc.UserAgentMode = "shuffle"
	if _, err := NewFetcher(sc); err == nil {
		t.Error("expected error for unknown user agent mode")
	}

	sc = config.Default().Scrape
	sc.ProxyFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := NewFetcher(sc); err == nil {
		t.Error("expected error for missing proxy file")
	}
}
