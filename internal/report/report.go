// Package report renders digests and run history for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"text/template"

	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/storage"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatHTML:
		return Format(s), nil
	default:
		return "", fmt.Errorf("report: unknown format %q", s)
	}
}

// Report is one generated digest with its metadata. The JSON form matches
// the HTTP API response body.
type Report struct {
	Digest   digest.Digest   `json:"digest"`
	Metadata digest.Metadata `json:"metadata"`
}

// Render writes r in the requested format.
func Render(w io.Writer, format Format, r Report) error {
	if r.Digest == nil {
		r.Digest = digest.Digest{}
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatHTML:
		return execute(htmlDigest, w, r)
	case FormatText, "":
		return execute(textDigest, w, r)
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}

// RenderHistory writes a list of persisted runs, newest first.
func RenderHistory(w io.Writer, format Format, runs []*storage.Run) error {
	if runs == nil {
		runs = []*storage.Run{}
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, runs)
	case FormatHTML:
		return execute(htmlHistory, w, runs)
	case FormatText, "":
		return execute(textHistory, w, runs)
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}

type executor interface {
	Execute(w io.Writer, data any) error
}

func execute(t executor, w io.Writer, data any) error {
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

var funcs = map[string]any{
	"inc": func(i int) int { return i + 1 },
	"seconds": func(f float64) string {
		return fmt.Sprintf("%.2fs", f)
	},
}

var textDigest = template.Must(template.New("textDigest").Funcs(funcs).Parse(`News Digest: {{.Metadata.Query}}
------------------------------------------------------------
Articles found:      {{.Metadata.ArticlesFound}}
Articles summarized: {{.Metadata.ArticlesSummarized}}
Processing time:     {{seconds .Metadata.ProcessingTimeSeconds}}
{{range $i, $s := .Digest}}
{{inc $i}}. {{$s.Source}}
   {{$s.Summary}}
{{- range $s.Bullets}}
   - {{.}}
{{- end}}
{{else}}
No articles could be summarized.
{{end -}}
`))

var htmlDigest = htmltemplate.Must(htmltemplate.New("htmlDigest").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>News Digest: {{.Metadata.Query}}</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; max-width: 860px; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .meta { color: #666; }
  .entry { margin: 24px 0; padding: 16px 20px; background: #f4f4f4; border-radius: 5px; }
  .entry a { font-size: 14px; word-break: break-all; }
</style>
</head>
<body>
  <h1>News Digest: {{.Metadata.Query}}</h1>
  <p class="meta">{{.Metadata.ArticlesSummarized}} of {{.Metadata.ArticlesFound}} articles summarized in {{seconds .Metadata.ProcessingTimeSeconds}}</p>
  {{- range .Digest}}
  <div class="entry">
    <a href="{{.Source}}">{{.Source}}</a>
    <p>{{.Summary}}</p>
    <ul>
    {{- range .Bullets}}
      <li>{{.}}</li>
    {{- end}}
    </ul>
  </div>
  {{- else}}
  <p>No articles could be summarized.</p>
  {{- end}}
</body>
</html>
`))

var textHistory = template.Must(template.New("textHistory").Parse(`{{range .}}{{.CreatedAt.Format "2006-01-02 15:04:05"}}  {{printf "%-40.40s" .Query}}  urls={{.URLsFound}} articles={{.ArticlesScraped}} summaries={{len .Digest}}  {{.Duration}}{{if .Error}}  ({{.Error}}){{end}}
{{else}}No runs recorded.
{{end}}`))

var htmlHistory = htmltemplate.Must(htmltemplate.New("htmlHistory").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Digest History</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Digest History</h1>
  <table>
    <tr><th>Time</th><th>Query</th><th>URLs</th><th>Articles</th><th>Summaries</th><th>Duration</th><th>Error</th></tr>
    {{- range .}}
    <tr><td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td><td>{{.Query}}</td><td>{{.URLsFound}}</td><td>{{.ArticlesScraped}}</td><td>{{len .Digest}}</td><td>{{.Duration}}</td><td>{{.Error}}</td></tr>
    {{- else}}
    <tr><td colspan="7">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`))
