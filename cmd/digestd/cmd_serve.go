package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsdigest/internal/app"
	"github.com/FranksOps/newsdigest/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /generate-digest over HTTP",
	Long: `Starts the HTTP API. POST /generate-digest with {"query": "..."} returns a
digest and processing metadata. GET /healthz reports liveness, GET /metrics
exposes Prometheus metrics and GET /digests lists recorded runs when a
history backend is configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8000", "listen address for the API")
	f.String("metrics-addr", "", "separate listen address for /metrics (default: API listener)")

	mustBind(v, "server.addr", f.Lookup("addr"))
	mustBind(v, "metrics.addr", f.Lookup("metrics-addr"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Deps{}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		ms, err := metrics.Start(cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		defer ms.Stop(context.WithoutCancel(ctx))
		logger.Info("metrics listening", "component", "metrics", "addr", ms.Addr())
	}

	return a.Server().ListenAndServe(ctx, cfg.Server.Addr)
}
