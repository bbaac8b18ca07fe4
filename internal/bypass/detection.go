// Package bypass recognises bot-protection challenge pages so they are not
// mistaken for article content.
package bypass

import (
	"bytes"
	"net/http"
	"slices"
	"strings"

	"github.com/FranksOps/newsdigest/internal/storage"
)

// Signature describes how one bot-protection vendor announces a challenge.
// A response matches when its status is listed and any server hint, header,
// or body marker is present.
type Signature struct {
	Name        string
	Statuses    []int
	ServerHints []string // lowercase substrings of the Server header
	Headers     []string // presence of any of these headers
	BodyMarkers [][]byte
}

// Match reports whether res carries this signature.
func (s Signature) Match(res *storage.ScrapeResult) bool {
	if !slices.Contains(s.Statuses, res.StatusCode) {
		return false
	}

	server := strings.ToLower(header(res.Headers, "Server"))
	for _, hint := range s.ServerHints {
		if strings.Contains(server, hint) {
			return true
		}
	}
	for _, h := range s.Headers {
		if header(res.Headers, h) != "" {
			return true
		}
	}
	for _, m := range s.BodyMarkers {
		if bytes.Contains(res.Body, m) {
			return true
		}
	}
	return false
}

// header looks a key up case-insensitively; stored results may hold
// non-canonical keys.
func header(headers map[string][]string, key string) string {
	for k, vals := range headers {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// DefaultSignatures covers the vendors most often seen in front of news sites.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Name:        "Cloudflare",
			Statuses:    []int{http.StatusForbidden, http.StatusServiceUnavailable},
			ServerHints: []string{"cloudflare"},
			BodyMarkers: [][]byte{
				[]byte("cf-browser-verification"),
				[]byte("cf-turnstile"),
				[]byte("challenge-platform"),
				[]byte("Attention Required! | Cloudflare"),
			},
		},
		{
			Name:        "Akamai",
			Statuses:    []int{http.StatusForbidden},
			ServerHints: []string{"akamai"},
			BodyMarkers: [][]byte{[]byte("errors.edgesuite.net")},
		},
		{
			Name:        "DataDome",
			Statuses:    []int{http.StatusForbidden},
			ServerHints: []string{"datadome"},
			Headers:     []string{"X-DataDome", "X-DataDome-Response"},
			BodyMarkers: [][]byte{[]byte("geo.captcha-delivery.com")},
		},
		{
			Name:        "PerimeterX",
			Statuses:    []int{http.StatusForbidden},
			Headers:     []string{"X-Px-Captcha"},
			BodyMarkers: [][]byte{[]byte("client.perimeterx.net"), []byte("px-captcha"), []byte("_pxBlock")},
		},
	}
}

// Analyze checks res against signatures in order and records the first
// match on res. It returns true if a challenge was detected.
func Analyze(res *storage.ScrapeResult, signatures []Signature) bool {
	if res == nil {
		return false
	}
	res.DetectedBot = false
	res.DetectionSrc = ""

	for _, s := range signatures {
		if s.Match(res) {
			res.DetectedBot = true
			res.DetectionSrc = s.Name
			return true
		}
	}
	// Akamai's generic block page carries no vendor marker of its own
	if res.StatusCode == http.StatusForbidden &&
		bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied")) {
		res.DetectedBot = true
		res.DetectionSrc = "Akamai"
		return true
	}
	return false
}
