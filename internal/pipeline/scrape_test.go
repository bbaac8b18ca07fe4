package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/newsdigest/internal/extract"
	"github.com/FranksOps/newsdigest/internal/fingerprint"
	"github.com/FranksOps/newsdigest/internal/scraper"
	"github.com/FranksOps/newsdigest/internal/storage"
)

const longParagraph = "Port authorities reported that container throughput rose for the third consecutive month, " +
	"driven by restocking ahead of the holiday season and a rebound in trans-Pacific demand. "

func articlePage(paragraphs int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>t</title><script>var x = 1;</script></head><body>")
	b.WriteString(`<nav><a href="/">Home</a><a href="/world">World</a></nav><article><h1>Shipping rebounds</h1>`)
	for i := 0; i < paragraphs; i++ {
		b.WriteString("<p>" + longParagraph + "</p>")
	}
	b.WriteString(`</article><footer>Copyright</footer></body></html>`)
	return b.String()
}

func newTestFetcher(t *testing.T) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	return f
}

func TestScrapeStage_DropsFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/stub", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><article><p>Subscribe to keep reading.</p></article></body></html>`))
	})
	mux.HandleFunc("/story", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage(4)))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	stage := NewScrapeStage(newTestFetcher(t), ScrapeConfig{Extract: extract.DefaultOptions}, nil)
	urls := []string{ts.URL + "/missing", ts.URL + "/stub", ts.URL + "/story"}

	d := stage.Run(context.Background(), State{Query: "q", URLs: urls})

	if len(d.ScrapedArticles) != 1 {
		t.Fatalf("expected exactly 1 article, got %d", len(d.ScrapedArticles))
	}
	got := d.ScrapedArticles[0]
	if got.URL != ts.URL+"/story" {
		t.Errorf("expected the valid story, got %s", got.URL)
	}
	if utf8.RuneCountInString(got.Content) < DefaultMinContentLength {
		t.Errorf("content shorter than %d characters: %d", DefaultMinContentLength, utf8.RuneCountInString(got.Content))
	}
	if strings.Contains(got.Content, "Copyright") || strings.Contains(got.Content, "World") {
		t.Errorf("boilerplate leaked into content: %q", got.Content)
	}
}

func TestScrapeStage_OutcomeReasons(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/stub", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article><p>Too short.</p></article></body></html>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><script>render()</script></body></html>`))
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	stage := NewScrapeStage(newTestFetcher(t), ScrapeConfig{Extract: extract.DefaultOptions}, nil)
	urls := []string{
		ts.URL + "/missing",
		ts.URL + "/stub",
		ts.URL + "/empty",
		ts.URL + "/report.pdf",
		ts.URL + "/blocked",
		"http://127.0.0.1:1/refused",
	}

	outcomes := stage.Scrape(context.Background(), urls)

	want := []DropReason{DropBadStatus, DropTooShort, DropNoContent, DropNotHTML, DropChallenge, DropFetchError}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %d outcomes, got %d", len(want), len(outcomes))
	}
	for i, o := range outcomes {
		if o.URL != urls[i] {
			t.Errorf("outcome %d: expected url %s, got %s", i, urls[i], o.URL)
		}
		if o.Dropped != want[i] {
			t.Errorf("outcome %d (%s): expected %s, got %q (%s)", i, urls[i], want[i], o.Dropped, o.Detail)
		}
	}
}

// barrierFetcher holds every Fetch until n calls are in flight at once.
type barrierFetcher struct {
	n       int32
	started atomic.Int32
	release chan struct{}
	once    sync.Once
	peak    atomic.Int32
	body    string
}

func (b *barrierFetcher) Fetch(ctx context.Context, url string) (*storage.ScrapeResult, error) {
	cur := b.started.Add(1)
	for {
		p := b.peak.Load()
		if cur <= p || b.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if cur == b.n {
		b.once.Do(func() { close(b.release) })
	}
	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
	}
	return &storage.ScrapeResult{URL: url, StatusCode: http.StatusOK, Body: []byte(b.body)}, nil
}

func TestScrapeStage_FansOutAndKeepsOrder(t *testing.T) {
	fetcher := &barrierFetcher{n: 6, release: make(chan struct{}), body: articlePage(3)}
	stage := NewScrapeStage(fetcher, ScrapeConfig{Extract: extract.DefaultOptions}, nil)

	urls := []string{
		"https://a.example/1", "https://b.example/2", "https://c.example/3",
		"https://d.example/4", "https://e.example/5", "https://f.example/6",
	}

	start := time.Now()
	d := stage.Run(context.Background(), State{URLs: urls})

	if time.Since(start) > time.Second {
		t.Errorf("fetches did not all run at once; took %v", time.Since(start))
	}
	if fetcher.peak.Load() != 6 {
		t.Errorf("expected all 6 fetches in flight together, peak was %d", fetcher.peak.Load())
	}
	if len(d.ScrapedArticles) != len(urls) {
		t.Fatalf("expected %d articles, got %d", len(urls), len(d.ScrapedArticles))
	}
	for i, a := range d.ScrapedArticles {
		if a.URL != urls[i] {
			t.Errorf("article %d: expected %s, got %s", i, urls[i], a.URL)
		}
	}
}

type denyRobots struct{ path string }

func (d denyRobots) IsAllowed(ctx context.Context, url, agent string) (bool, error) {
	return !strings.HasSuffix(url, d.path), nil
}

func TestScrapeStage_Robots(t *testing.T) {
	fetcher := &barrierFetcher{n: 1, release: make(chan struct{}), body: articlePage(3)}
	stage := NewScrapeStage(fetcher, ScrapeConfig{
		Extract: extract.DefaultOptions,
		Robots:  denyRobots{path: "/private"},
	}, nil)

	outcomes := stage.Scrape(context.Background(), []string{"https://a.example/private", "https://a.example/public"})

	if outcomes[0].Dropped != DropRobots {
		t.Errorf("expected robots drop, got %q", outcomes[0].Dropped)
	}
	if !outcomes[1].OK() {
		t.Errorf("expected public page to survive, got %q (%s)", outcomes[1].Dropped, outcomes[1].Detail)
	}
	if fetcher.started.Load() != 1 {
		t.Errorf("disallowed url should not be fetched; fetches: %d", fetcher.started.Load())
	}
}

func TestScrapeStage_Empty(t *testing.T) {
	stage := NewScrapeStage(&barrierFetcher{release: make(chan struct{})}, ScrapeConfig{}, nil)
	d := stage.Run(context.Background(), State{URLs: []string{}})
	if d.ScrapedArticles == nil || len(d.ScrapedArticles) != 0 {
		t.Errorf("expected empty, non-nil article list, got %#v", d.ScrapedArticles)
	}
}
