package digest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSummary marks a model response that does not satisfy the
// ArticleSummary schema.
var ErrInvalidSummary = errors.New("invalid article summary")

// Article is a page that survived scraping, with its extracted main text.
type Article struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// ArticleSummary is the structured summary produced for one article.
// All three fields are required.
type ArticleSummary struct {
	Source  string   `json:"source"`
	Summary string   `json:"summary"`
	Bullets []string `json:"bullets"`
}

// Digest is the ordered list of summaries returned to a caller.
type Digest []ArticleSummary

// Metadata describes a single digest generation.
type Metadata struct {
	Query                 string  `json:"query"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	ArticlesFound         int     `json:"articles_found"`
	ArticlesSummarized    int     `json:"articles_summarized"`
}

// rawSummary keeps pointers so that absent fields can be told apart from
// empty ones.
type rawSummary struct {
	Source  *string   `json:"source"`
	Summary *string   `json:"summary"`
	Bullets *[]string `json:"bullets"`
}

// ParseSummary decodes a model response into an ArticleSummary.
//
// Models frequently wrap the object in a ```json fence or add a sentence
// before it, so the first balanced JSON object in raw is decoded. Missing,
// null or blank source/summary, and a missing or null bullets array, are
// reported as ErrInvalidSummary.
func ParseSummary(raw string) (ArticleSummary, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return ArticleSummary{}, err
	}

	var rs rawSummary
	dec := json.NewDecoder(bytes.NewReader(obj))
	if err := dec.Decode(&rs); err != nil {
		return ArticleSummary{}, fmt.Errorf("%w: decode: %v", ErrInvalidSummary, err)
	}

	s := ArticleSummary{
		Source:  trimmed(rs.Source),
		Summary: trimmed(rs.Summary),
	}
	if rs.Bullets != nil && *rs.Bullets != nil {
		s.Bullets = make([]string, 0, len(*rs.Bullets))
		for _, b := range *rs.Bullets {
			if b = strings.TrimSpace(b); b != "" {
				s.Bullets = append(s.Bullets, b)
			}
		}
	}

	if err := s.Validate(); err != nil {
		return ArticleSummary{}, err
	}
	return s, nil
}

// Validate reports whether s carries every required field. A nil Bullets
// slice counts as missing; an empty one does not.
func (s ArticleSummary) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(s.Summary) == "" {
		missing = append(missing, "summary")
	}
	if s.Bullets == nil {
		missing = append(missing, "bullets")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidSummary, strings.Join(missing, ", "))
	}
	return nil
}

func trimmed(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// extractObject returns the first balanced {...} span of raw, honouring
// string literals so braces inside values do not end the scan early.
func extractObject(raw string) ([]byte, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidSummary)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(raw[start : i+1]), nil
			}
		}
	}

	return nil, fmt.Errorf("%w: unterminated JSON object", ErrInvalidSummary)
}
