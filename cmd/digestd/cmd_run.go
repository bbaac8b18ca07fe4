package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsdigest/internal/app"
	"github.com/FranksOps/newsdigest/internal/digest"
	"github.com/FranksOps/newsdigest/internal/report"
	"github.com/FranksOps/newsdigest/internal/server"
)

var runFlags struct {
	format string
	output string
}

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Generate one digest and print it",
	Example: `  digestd run "container shipping rates"
  digestd run --format html -o digest.html renewable energy`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDigest,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.format, "format", "text", "output format (text, json, html)")
	f.StringVarP(&runFlags.output, "output", "o", "", "write to file instead of stdout")
	f.Int("max-results", 5, "number of search results to scrape")
	f.Int("concurrency", 4, "concurrent LLM calls")

	mustBind(v, "search.max_results", f.Lookup("max-results"))
	mustBind(v, "summarize.concurrency", f.Lookup("concurrency"))
}

func runDigest(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(runFlags.format)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("query must not be empty")
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.Deps{}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	st, err := a.Pipeline.Run(ctx, query)
	if err != nil {
		return err
	}
	if len(st.FinalDigest) == 0 {
		return errors.New(server.EmptyDigestDetail)
	}

	var out io.Writer = cmd.OutOrStdout()
	if runFlags.output != "" {
		file, err := os.Create(runFlags.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		out = file
	}

	return report.Render(out, format, report.Report{
		Digest: st.FinalDigest,
		Metadata: digest.Metadata{
			Query:                 st.Query,
			ProcessingTimeSeconds: math.Round(time.Since(start).Seconds()*100) / 100,
			ArticlesFound:         len(st.URLs),
			ArticlesSummarized:    len(st.FinalDigest),
		},
	})
}
