// Package app wires configuration into a runnable digest pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/newsdigest/internal/config"
	"github.com/FranksOps/newsdigest/internal/extract"
	"github.com/FranksOps/newsdigest/internal/fingerprint"
	"github.com/FranksOps/newsdigest/internal/llm"
	"github.com/FranksOps/newsdigest/internal/pipeline"
	"github.com/FranksOps/newsdigest/internal/scraper"
	"github.com/FranksOps/newsdigest/internal/serp"
	"github.com/FranksOps/newsdigest/internal/server"
	"github.com/FranksOps/newsdigest/internal/storage"
	"github.com/FranksOps/newsdigest/internal/storage/badgerkv"
	"github.com/FranksOps/newsdigest/internal/storage/csvbackend"
	"github.com/FranksOps/newsdigest/internal/storage/jsonbackend"
	"github.com/FranksOps/newsdigest/internal/storage/postgres"
	"github.com/FranksOps/newsdigest/internal/storage/sqlite"
	"github.com/FranksOps/newsdigest/pkg/proxy"
	"github.com/FranksOps/newsdigest/pkg/ratelimit"
	"github.com/FranksOps/newsdigest/pkg/useragent"
)

// Application holds the long-lived pieces built from a Config.
type Application struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	// History is nil when storage.driver is none.
	History storage.Backend

	logger *slog.Logger
}

// Deps overrides the remote adapters. Zero fields are built from config.
type Deps struct {
	Search    serp.SERPProvider
	Completer llm.Completer
}

// New builds the application. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	history, err := OpenHistory(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	p, err := buildPipeline(cfg, deps, history, logger)
	if err != nil {
		if history != nil {
			_ = history.Close()
		}
		return nil, err
	}

	return &Application{
		Config:   cfg,
		Pipeline: p,
		History:  history,
		logger:   logger,
	}, nil
}

// Server returns an HTTP server over the application's pipeline.
func (a *Application) Server() *server.Server {
	return server.New(a.Pipeline, server.Config{
		MinQueryLength:  a.Config.Server.MinQueryLength,
		RequestTimeout:  a.Config.Server.RequestTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		History:         a.History,
		ServeMetrics:    a.Config.Metrics.Enabled && a.Config.Metrics.Addr == "",
	}, a.logger)
}

// Close releases the history backend.
func (a *Application) Close() error {
	if a.History == nil {
		return nil
	}
	return a.History.Close()
}

func buildPipeline(cfg *config.Config, deps Deps, history storage.Backend, logger *slog.Logger) (*pipeline.Pipeline, error) {
	search := deps.Search
	if search == nil {
		t, err := serp.NewTavily(serp.TavilyConfig{
			Endpoint: cfg.Search.Endpoint,
			APIKey:   cfg.Search.APIKey,
			Topic:    cfg.Search.Topic,
			Timeout:  cfg.Search.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("search adapter: %w", err)
		}
		search = t
	}

	completer := deps.Completer
	if completer == nil {
		m, err := llm.New(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			JSONMode:    cfg.LLM.JSONMode,
		})
		if err != nil {
			return nil, fmt.Errorf("llm adapter: %w", err)
		}
		completer = m
	}

	fetcher, err := NewFetcher(cfg.Scrape)
	if err != nil {
		return nil, err
	}

	scrapeCfg := pipeline.ScrapeConfig{
		Timeout:          cfg.Scrape.Timeout,
		MinContentLength: cfg.Scrape.MinContentLength,
		Extract:          extract.DefaultOptions,
		RobotsAgent:      cfg.Scrape.RobotsAgent,
	}
	if cfg.Scrape.RespectRobots {
		scrapeCfg.Robots = scraper.NewRobotsTxtAuditor(fetcher, logger)
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if history != nil {
		opts = append(opts, pipeline.WithHistory(history))
	}

	return pipeline.New(
		pipeline.NewSearchStage(search, cfg.Search.MaxResults, logger),
		pipeline.NewScrapeStage(fetcher, scrapeCfg, logger),
		pipeline.NewSummarizeStage(completer, pipeline.SummarizeConfig{
			Concurrency:     cfg.Summarize.Concurrency,
			Retries:         cfg.Summarize.Retries,
			MaxContentChars: cfg.Summarize.MaxContentChars,
		}, logger),
		pipeline.NewAggregateStage(logger),
		opts...,
	)
}

// NewFetcher builds the article fetcher from scrape settings.
func NewFetcher(sc config.ScrapeConfig) (*scraper.Fetcher, error) {
	profile, err := fingerprint.ParseProfile(sc.Fingerprint)
	if err != nil {
		return nil, err
	}
	mode, err := useragent.ParseMode(sc.UserAgentMode)
	if err != nil {
		return nil, err
	}

	var pool *proxy.Pool
	if len(sc.Proxies) > 0 || sc.ProxyFile != "" {
		pool = proxy.NewPool(proxy.Config{})
		if err := pool.Add(sc.Proxies...); err != nil {
			return nil, fmt.Errorf("proxies: %w", err)
		}
		if sc.ProxyFile != "" {
			if err := pool.LoadFile(sc.ProxyFile); err != nil {
				return nil, fmt.Errorf("proxy file: %w", err)
			}
		}
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      sc.Timeout,
		MaxRedirects: sc.MaxRedirects,
		MaxBodyBytes: sc.MaxBodyBytes,
		UseCookieJar: sc.CookieJar,
		UseEnvProxy:  sc.UseEnvProxy,
		ProxyPool:    pool,
		UAPool:       useragent.NewPool(sc.UserAgents, mode),
		Fingerprint:  profile,
		Limiter:      ratelimit.NewHostLimiter(sc.RPS, sc.Burst, sc.Jitter),
	})
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	return fetcher, nil
}

// OpenHistory opens the configured run history backend. It returns a nil
// backend for driver none.
func OpenHistory(ctx context.Context, sc config.StorageConfig, logger *slog.Logger) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch sc.Driver {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverSQLite:
		b, err = sqlite.New(sc.DSN)
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		b, err = postgres.New(connectCtx, sc.DSN)
	case config.DriverJSON:
		b, err = jsonbackend.New(sc.DSN)
	case config.DriverCSV:
		b, err = csvbackend.New(sc.DSN)
	case config.DriverBadger:
		b, err = badgerkv.New(sc.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", sc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", sc.Driver, err)
	}
	if logger != nil {
		logger.Info("run history enabled", "component", "storage", "driver", sc.Driver)
	}
	return b, nil
}

// ErrNoHistory is returned by commands that need a history backend when
// none is configured.
var ErrNoHistory = errors.New("no run history configured (set storage.driver)")
