package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FranksOps/newsdigest/pkg/httpclient"
)

// DefaultTavilyEndpoint is the public Tavily search API.
const DefaultTavilyEndpoint = "https://api.tavily.com"

// a search response carries at most a few dozen short snippets
const maxResponseBytes = 2 << 20

// ensure Tavily implements SERPProvider
var _ SERPProvider = (*Tavily)(nil)

// Tavily queries the Tavily search API.
type Tavily struct {
	endpoint string
	apiKey   string
	topic    string
	client   *httpclient.Client
}

// TavilyConfig configures a Tavily client.
type TavilyConfig struct {
	Endpoint string // defaults to DefaultTavilyEndpoint
	APIKey   string
	Topic    string // "general" or "news"; empty leaves the provider default
	Timeout  time.Duration
}

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Topic      string `json:"topic,omitempty"`
}

type tavilyResponse struct {
	Results []Result `json:"results"`
}

// NewTavily creates a Tavily search provider.
func NewTavily(cfg TavilyConfig) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tavily: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultTavilyEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 3,
		Header:       http.Header{"Accept": {"application/json"}},
		MaxBodyBytes: maxResponseBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	return &Tavily{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		topic:    cfg.Topic,
		client:   client,
	}, nil
}

// Search performs a search and returns at most limit results in ranking order.
func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative: %d", limit)
	}
	if limit == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: limit, Topic: t.topic})
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, t.endpoint+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	if len(decoded.Results) > limit {
		decoded.Results = decoded.Results[:limit]
	}
	if decoded.Results == nil {
		decoded.Results = []Result{}
	}
	return decoded.Results, nil
}
