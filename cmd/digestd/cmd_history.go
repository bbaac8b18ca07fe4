package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsdigest/internal/app"
	"github.com/FranksOps/newsdigest/internal/report"
	"github.com/FranksOps/newsdigest/internal/storage"
)

var historyFlags struct {
	query  string
	since  time.Duration
	limit  int
	offset int
	format string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded digest runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.query, "query", "", "only runs for this exact query")
	f.DurationVar(&historyFlags.since, "since", 0, "only runs newer than this (e.g. 24h)")
	f.IntVar(&historyFlags.limit, "limit", 20, "maximum runs to list")
	f.IntVar(&historyFlags.offset, "offset", 0, "runs to skip")
	f.StringVar(&historyFlags.format, "format", "text", "output format (text, json, html)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	format, err := report.ParseFormat(historyFlags.format)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := app.OpenHistory(ctx, cfg.Storage, nil)
	if err != nil {
		return err
	}
	if b == nil {
		return app.ErrNoHistory
	}
	defer b.Close()

	filter := storage.Filter{
		Query:  historyFlags.query,
		Limit:  historyFlags.limit,
		Offset: historyFlags.offset,
	}
	if historyFlags.since > 0 {
		since := time.Now().Add(-historyFlags.since)
		filter.Since = &since
	}

	runs, err := b.Query(ctx, filter)
	if err != nil {
		return err
	}
	return report.RenderHistory(cmd.OutOrStdout(), format, runs)
}
