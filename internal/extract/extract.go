package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Options tunes which parts of a page are considered boilerplate.
type Options struct {
	ExcludeComments bool
	ExcludeTables   bool
}

// DefaultOptions drops comment threads and tables.
var DefaultOptions = Options{ExcludeComments: true, ExcludeTables: true}

// always removed, regardless of options
var boilerplateSelectors = []string{
	"script", "style", "noscript", "template", "iframe", "svg", "canvas",
	"nav", "header", "footer", "aside", "form", "button", "select",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[role=complementary]",
	"[aria-hidden=true]",
}

var commentSelectors = []string{
	"#comments", ".comments", ".comment", "#disqus_thread", ".comment-list", "[itemprop=comment]",
}

// words in a class or id that mark chrome rather than content; class
// tokens are split on '-' and '_' before matching
var noiseHints = map[string]bool{
	"navbar": true, "nav": true, "menu": true, "breadcrumb": true, "breadcrumbs": true,
	"cookie": true, "cookies": true, "consent": true, "newsletter": true,
	"share": true, "sharing": true, "social": true, "sidebar": true, "related": true,
	"promo": true, "advert": true, "advertisement": true, "subscribe": true, "paywall": true,
}

// a noisy-looking wrapper holding more than this share of the page's
// paragraph text is kept
const contentShare = 0.5

var containerSelectors = []string{"article", "main", "[role=main]", "body"}

const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, td, th, figcaption"

// Extract returns the main text of an HTML page. The boolean is false when
// nothing usable was found.
func Extract(html string, opts Options) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	doc.Find(strings.Join(boilerplateSelectors, ", ")).Remove()
	if opts.ExcludeComments {
		doc.Find(strings.Join(commentSelectors, ", ")).Remove()
	}
	if opts.ExcludeTables {
		doc.Find("table").Remove()
	}
	pageText := paragraphText(doc.Selection)
	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		if isNoise(s) && !holdsContent(s, pageText) {
			s.Remove()
		}
	})

	container := pickContainer(doc)
	if container == nil {
		return "", false
	}

	var lines []string
	container.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks (li > p) are collected through their innermost element
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if line := normalizeSpace(s.Text()); line != "" {
			lines = append(lines, line)
		}
	})

	text := strings.Join(lines, "\n")
	if text == "" {
		text = normalizeSpace(container.Text())
	}
	if text == "" {
		return "", false
	}
	return text, true
}

func pickContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range containerSelectors {
		var best *goquery.Selection
		bestLen := 0
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if n := len(strings.TrimSpace(s.Text())); n > bestLen {
				best, bestLen = s, n
			}
		})
		if best != nil {
			return best
		}
	}
	return nil
}

func isNoise(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "html", "body", "article", "main":
		return false
	}
	attrs := strings.ToLower(s.AttrOr("class", "") + " " + s.AttrOr("id", ""))
	for _, token := range strings.Fields(attrs) {
		for _, word := range strings.FieldsFunc(token, func(r rune) bool { return r == '-' || r == '_' }) {
			if noiseHints[word] {
				return true
			}
		}
	}
	return false
}

// holdsContent reports whether s wraps the main content: it contains an
// article or main element, or most of the page's paragraph text.
func holdsContent(s *goquery.Selection, pageText int) bool {
	if s.Find("article, main, [role=main]").Length() > 0 {
		return true
	}
	return pageText > 0 && float64(paragraphText(s)) > contentShare*float64(pageText)
}

func paragraphText(s *goquery.Selection) int {
	n := 0
	s.Find("p").Each(func(_ int, p *goquery.Selection) {
		n += len(normalizeSpace(p.Text()))
	})
	return n
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
