// Package config loads digestd settings from defaults, an optional YAML
// file and DIGEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DIGEST_SEARCH_API_KEY for search.api_key.
const EnvPrefix = "DIGEST"

// Config is the full set of digestd settings.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Search    SearchConfig    `mapstructure:"search"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Summarize SummarizeConfig `mapstructure:"summarize"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MinQueryLength  int           `mapstructure:"min_query_length"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SearchConfig points at the Tavily search API.
type SearchConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Topic      string        `mapstructure:"topic"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig points at an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	JSONMode    bool    `mapstructure:"json_mode"`
}

type ScrapeConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	MinContentLength int           `mapstructure:"min_content_length"`
	Fingerprint      string        `mapstructure:"fingerprint"`
	UserAgents       []string      `mapstructure:"user_agents"`
	UserAgentMode    string        `mapstructure:"user_agent_mode"`
	Proxies          []string      `mapstructure:"proxies"`
	ProxyFile        string        `mapstructure:"proxy_file"`
	UseEnvProxy      bool          `mapstructure:"use_env_proxy"`
	CookieJar        bool          `mapstructure:"cookie_jar"`
	RPS              float64       `mapstructure:"rps"`
	Burst            int           `mapstructure:"burst"`
	Jitter           float64       `mapstructure:"jitter"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	RobotsAgent      string        `mapstructure:"robots_agent"`
}

type SummarizeConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	Retries         int `mapstructure:"retries"`
	MaxContentChars int `mapstructure:"max_content_chars"`
}

// StorageConfig selects the run history backend. DSN is a connection
// string for sqlite/postgres, a file path for json/csv and a directory for
// badger.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// MetricsConfig controls /metrics. An empty Addr serves metrics on the API
// listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Storage drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverJSON     = "json"
	DriverCSV      = "csv"
	DriverBadger   = "badger"
)

var defaults = map[string]any{
	"server.addr":             ":8000",
	"server.request_timeout":  3 * time.Minute,
	"server.shutdown_timeout": 10 * time.Second,
	"server.min_query_length": 5,

	"log.level":  "info",
	"log.format": "text",

	"search.endpoint":    "https://api.tavily.com",
	"search.api_key":     "",
	"search.topic":       "news",
	"search.max_results": 5,
	"search.timeout":     20 * time.Second,

	"llm.base_url":    "https://generativelanguage.googleapis.com/v1beta/openai/",
	"llm.api_key":     "",
	"llm.model":       "gemini-2.0-flash",
	"llm.temperature": 0.3,
	"llm.json_mode":   true,

	"scrape.timeout":            15 * time.Second,
	"scrape.max_redirects":      10,
	"scrape.max_body_bytes":     int64(5 << 20),
	"scrape.min_content_length": 300,
	"scrape.fingerprint":        "go",
	"scrape.user_agents":        []string{},
	"scrape.user_agent_mode":    "sequential",
	"scrape.proxies":            []string{},
	"scrape.proxy_file":         "",
	"scrape.use_env_proxy":      true,
	"scrape.cookie_jar":         false,
	"scrape.rps":                0.0,
	"scrape.burst":              1,
	"scrape.jitter":             0.0,
	"scrape.respect_robots":     false,
	"scrape.robots_agent":       "newsdigest",

	"summarize.concurrency":       4,
	"summarize.retries":           0,
	"summarize.max_content_chars": 12000,

	"storage.driver": DriverNone,
	"storage.dsn":    "",

	"metrics.enabled": true,
	"metrics.addr":    "",
}

// New returns a viper instance carrying the defaults and environment
// bindings. Callers may bind flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects settings the pipeline cannot run with. Missing API keys
// are not checked here; the adapters report them when built.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MinQueryLength < 1 {
		errs = append(errs, fmt.Errorf("server.min_query_length must be at least 1"))
	}
	if c.Search.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("search.max_results must be at least 1"))
	}
	if c.Summarize.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("summarize.concurrency must be at least 1"))
	}
	if c.Summarize.Retries < 0 {
		errs = append(errs, fmt.Errorf("summarize.retries must not be negative"))
	}
	if c.Scrape.MinContentLength < 0 {
		errs = append(errs, fmt.Errorf("scrape.min_content_length must not be negative"))
	}
	if c.Scrape.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scrape.timeout must be positive"))
	}
	if c.Scrape.RPS < 0 {
		errs = append(errs, fmt.Errorf("scrape.rps must not be negative"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2]"))
	}

	switch c.Storage.Driver {
	case DriverNone, "":
	case DriverSQLite, DriverPostgres, DriverJSON, DriverCSV:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	case DriverBadger:
		// empty DSN opens an in-memory store
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of none, sqlite, postgres, json, csv, badger", c.Storage.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
