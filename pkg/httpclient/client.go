// Package httpclient builds the outbound HTTP client shared by the article
// fetcher and the search adapter.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrTooManyRedirects is wrapped in the error returned when a redirect
// chain exceeds Config.MaxRedirects.
var ErrTooManyRedirects = errors.New("httpclient: too many redirects")

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects caps redirect hops; negative returns the first 3xx as is.
	MaxRedirects int
	UseCookieJar bool
	// Header is sent with every request that does not set the key itself.
	Header http.Header
	// MaxBodyBytes truncates response bodies; 0 leaves them unbounded.
	MaxBodyBytes int64
	// Transport overrides http.DefaultTransport, e.g. for uTLS.
	Transport http.RoundTripper
}

// Client sends requests with shared defaults and a body cap.
type Client struct {
	http    *http.Client
	header  http.Header
	maxBody int64
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	hc := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	}

	if cfg.MaxRedirects >= 0 {
		limit := cfg.MaxRedirects
		hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) > limit {
				return fmt.Errorf("%w: stopped after %d redirects", ErrTooManyRedirects, limit)
			}
			return nil
		}
	} else {
		hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: %w", err)
		}
		hc.Jar = jar
	}

	return &Client{
		http:    hc,
		header:  cfg.Header.Clone(),
		maxBody: cfg.MaxBodyBytes,
	}, nil
}

// Do sends req under ctx. Default headers fill keys req leaves unset, and
// the response body stops after MaxBodyBytes.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: context cannot be nil")
	}

	out := req.Clone(ctx)
	for key, vals := range c.header {
		if _, set := out.Header[key]; !set {
			out.Header[key] = vals
		}
	}

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	if c.maxBody > 0 {
		resp.Body = &limitedBody{Reader: io.LimitReader(resp.Body, c.maxBody), Closer: resp.Body}
	}
	return resp, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}
