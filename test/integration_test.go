//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/newsdigest/internal/app"
	"github.com/FranksOps/newsdigest/internal/config"
	"github.com/FranksOps/newsdigest/internal/fingerprint"
	"github.com/FranksOps/newsdigest/internal/report"
	"github.com/FranksOps/newsdigest/internal/scraper"
	"github.com/FranksOps/newsdigest/internal/storage"
	"github.com/FranksOps/newsdigest/pkg/proxy"
	"github.com/FranksOps/newsdigest/pkg/useragent"
)

const paragraph = "Regional grid operators said battery storage deliveries doubled over the quarter, " +
	"easing evening peaks and cutting curtailment of solar output across three states."

func articleHTML(title string, paragraphs int) string {
	var sb strings.Builder
	sb.WriteString("<html><head><title>" + title + "</title><script>track()</script></head><body>")
	sb.WriteString(`<nav class="menu"><a href="/">Home</a></nav><article><h1>` + title + "</h1>")
	for range paragraphs {
		sb.WriteString("<p>" + paragraph + "</p>")
	}
	sb.WriteString(`</article><footer>Copyright</footer></body></html>`)
	return sb.String()
}

// newsSite serves two good articles, one bot wall, one stub and one page
// disallowed by robots.txt.
func newsSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/storage", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articleHTML("Storage doubles", 4))
	})
	mux.HandleFunc("/old-storage", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/grid", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/grid", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML("Grid peaks ease", 5))
	})
	mux.HandleFunc("/walled", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><body>cf-browser-verification</body></html>`)
	})
	mux.HandleFunc("/stub", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><article><p>Developing story.</p></article></body></html>`)
	})
	mux.HandleFunc("/private/memo", func(w http.ResponseWriter, r *http.Request) {
		t.Error("robots.txt disallowed path was fetched")
		fmt.Fprint(w, articleHTML("Memo", 4))
	})
	return httptest.NewServer(mux)
}

// tavily answers POST /search with the given URLs.
func tavily(t *testing.T, urls []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tvly-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Query      string `json:"query"`
			MaxResults int    `json:"max_results"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]map[string]any, 0, len(urls))
		for i, u := range urls {
			if i == req.MaxResults {
				break
			}
			results = append(results, map[string]any{"url": u, "title": "t", "content": "c", "score": 0.9})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"query": req.Query, "results": results})
	}))
}

var sourceRe = regexp.MustCompile(`Source URL: (https?://[^\s\\"]+)`)

// chatModel is an OpenAI-compatible /chat/completions endpoint that
// summarizes whatever source URL the prompt names.
func chatModel(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		m := sourceRe.FindSubmatch(body)
		if m == nil {
			t.Errorf("prompt carried no source URL: %s", body)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		content := fmt.Sprintf("```json\n{\"source\": %q, \"summary\": \"Battery storage eased grid peaks.\", \"bullets\": [\"Deliveries doubled\", \"Less curtailment\", \"Three states\"]}\n```", string(m[1]))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
		})
	}))
}

func testConfig(t *testing.T, searchURL, llmURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Search.Endpoint = searchURL
	cfg.Search.APIKey = "tvly-test"
	cfg.LLM.BaseURL = llmURL + "/v1"
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.Model = "test-model"
	cfg.Scrape.UseEnvProxy = false
	cfg.Scrape.Timeout = 5 * time.Second
	cfg.Scrape.RespectRobots = true
	cfg.Storage = config.StorageConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "runs.db")}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestIntegration_GenerateDigest(t *testing.T) {
	site := newsSite(t)
	defer site.Close()

	urls := []string{
		site.URL + "/storage",
		site.URL + "/walled",
		site.URL + "/old-storage",
		site.URL + "/stub",
		site.URL + "/private/memo",
	}
	search := tavily(t, urls)
	defer search.Close()

	var llmCalls atomic.Int32
	model := chatModel(t, &llmCalls)
	defer model.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), testConfig(t, search.URL, model.URL), app.Deps{}, logger)
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	defer a.Close()

	api := httptest.NewServer(a.Server().Handler())
	defer api.Close()

	resp, err := http.Post(api.URL+"/generate-digest", "application/json", strings.NewReader(`{"query": "grid battery storage"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, b)
	}

	var out report.Report
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.Metadata.ArticlesFound != 5 {
		t.Errorf("expected 5 urls found, got %d", out.Metadata.ArticlesFound)
	}
	if out.Metadata.ArticlesSummarized != 2 || len(out.Digest) != 2 {
		t.Fatalf("expected 2 summaries, got %d: %+v", len(out.Digest), out.Digest)
	}
	// input order survives the concurrent stages
	if out.Digest[0].Source != site.URL+"/storage" || out.Digest[1].Source != site.URL+"/old-storage" {
		t.Errorf("unexpected order: %s, %s", out.Digest[0].Source, out.Digest[1].Source)
	}
	if len(out.Digest[0].Bullets) != 3 {
		t.Errorf("expected 3 bullets, got %v", out.Digest[0].Bullets)
	}
	if got := llmCalls.Load(); got != 2 {
		t.Errorf("expected 2 LLM calls, got %d", got)
	}

	runs, err := a.History.Query(context.Background(), storage.Filter{Query: "grid battery storage"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(runs) != 1 || runs[0].URLsFound != 5 || runs[0].ArticlesScraped != 2 || len(runs[0].Digest) != 2 {
		t.Errorf("unexpected history: %+v", runs)
	}
}

func TestIntegration_EmptySearch(t *testing.T) {
	search := tavily(t, nil)
	defer search.Close()

	var llmCalls atomic.Int32
	model := chatModel(t, &llmCalls)
	defer model.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), testConfig(t, search.URL, model.URL), app.Deps{}, logger)
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	defer a.Close()

	api := httptest.NewServer(a.Server().Handler())
	defer api.Close()

	resp, err := http.Post(api.URL+"/generate-digest", "application/json", strings.NewReader(`{"query": "nothing at all"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if llmCalls.Load() != 0 {
		t.Errorf("LLM must not be called without articles")
	}
}

func TestIntegration_ProxyRotation(t *testing.T) {
	var proxyHits atomic.Int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyHits.Add(1)
		if r.Header.Get("User-Agent") != "IntegrationTest-UA" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("X-Proxied", "true")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML("Proxied", 3))
	}))
	defer proxySrv.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(proxySrv.URL); err != nil {
		t.Fatalf("add proxy: %v", err)
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		ProxyPool:   pool,
		UAPool:      useragent.NewPool([]string{"IntegrationTest-UA"}, useragent.ModeSequential),
	})
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}

	// a non-loopback host so the transport does not bypass the proxy
	res, err := fetcher.Fetch(context.Background(), "http://news.example.com/story")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if proxyHits.Load() == 0 {
		t.Fatalf("expected proxy to be hit: %s", res.Error)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("expected 200 through proxy, got %d: %s", res.StatusCode, res.Error)
	}
	if vals := res.Headers["X-Proxied"]; len(vals) == 0 || vals[0] != "true" {
		t.Errorf("expected X-Proxied header from proxy server")
	}
}

func TestIntegration_CookieJarPersistence(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/consent", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "consent", Value: "yes", Path: "/"})
		http.Redirect(w, r, "/story", http.StatusFound)
	})
	mux.HandleFunc("/story", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("consent"); err != nil || c.Value != "yes" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML("Behind consent", 3))
	})
	site := httptest.NewServer(mux)
	defer site.Close()

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      5 * time.Second,
		Fingerprint:  fingerprint.ProfileGo,
		UseCookieJar: true,
	})
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}

	res, err := fetcher.Fetch(context.Background(), site.URL+"/consent")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after consent redirect, got %d", res.StatusCode)
	}

	// the jar outlives a single fetch
	res, err = fetcher.Fetch(context.Background(), site.URL+"/story")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("expected jar to carry the cookie, got %d", res.StatusCode)
	}
}
