package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FranksOps/newsdigest/internal/serp"
)

type fakeSERP struct {
	results []serp.Result
	err     error

	gotLimit int
}

func (f *fakeSERP) Search(ctx context.Context, query string, limit int) ([]serp.Result, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func resultsFor(urls ...string) []serp.Result {
	out := make([]serp.Result, len(urls))
	for i, u := range urls {
		out[i] = serp.Result{URL: u}
	}
	return out
}

// fakeCompleter answers with a valid summary for the prompt's source URL,
// unless the URL is listed in malformed or failing.
type fakeCompleter struct {
	malformed map[string]bool
	failing   map[string]int // remaining failures per URL
	delay     time.Duration

	mu       sync.Mutex
	calls    int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	source := sourceFromPrompt(prompt)
	fail := f.failing[source] > 0
	if fail {
		f.failing[source]--
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return "", errors.New("upstream 503")
	}
	if f.malformed[source] {
		return `{"source": "` + source + `", "summary": "cut off`, nil
	}
	return fmt.Sprintf("```json\n{\"source\": %q, \"summary\": \"About %s.\", \"bullets\": [\"one\", \"two\", \"three\"]}\n```", source, source), nil
}

func sourceFromPrompt(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "Source URL: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
