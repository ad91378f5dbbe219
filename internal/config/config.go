package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the investigation service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  ClientsConfig  `yaml:"clients"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rules    RulesConfig    `yaml:"rules"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups external service integrations.
type ClientsConfig struct {
	Telemetry TelemetryClientConfig `yaml:"telemetry"`
	Reasoning ReasoningClientConfig `yaml:"reasoning"`
}

// TelemetryClientConfig configures access to the telemetry aggregation APIs.
type TelemetryClientConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	MetricsPath string        `yaml:"metricsPath"`
	LogsPath    string        `yaml:"logsPath"`
	SpansPath   string        `yaml:"spansPath"`
	EventsPath  string        `yaml:"eventsPath"`
	MonitorPath string        `yaml:"monitorPath"`
	Timeout     time.Duration `yaml:"timeout"`
	LogMaxPages int           `yaml:"logMaxPages"`
}

// ReasoningClientConfig configures the optional reasoning sidecar.
type ReasoningClientConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	IngestPath string        `yaml:"ingestPath"`
	QueryPath  string        `yaml:"queryPath"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AnalysisConfig tunes window sizing and analyzer thresholds.
type AnalysisConfig struct {
	WindowMinutes         int     `yaml:"windowMinutes"`
	BaselineMinutes       int     `yaml:"baselineMinutes"`
	MetricDeviationPct    float64 `yaml:"metricDeviationPct"`
	StaticMetricThreshold float64 `yaml:"staticMetricThreshold"`
	MaxLogClusters        int     `yaml:"maxLogClusters"`
	LogLimit              int     `yaml:"logLimit"`
	SpanLimit             int     `yaml:"spanLimit"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading for the recommender.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of expensive lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	MonitorTTL   time.Duration `yaml:"monitorTTL"`
	EventsTTL    time.Duration `yaml:"eventsTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SLEUTH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Telemetry: TelemetryClientConfig{
				MetricsPath: "/api/v1/query/metrics",
				LogsPath:    "/api/v1/search/logs",
				SpansPath:   "/api/v1/search/spans",
				EventsPath:  "/api/v1/search/events",
				MonitorPath: "/api/v1/monitors/get",
				Timeout:     5 * time.Second,
				LogMaxPages: 2,
			},
			Reasoning: ReasoningClientConfig{
				IngestPath: "/api/v1/ingest",
				QueryPath:  "/api/v1/query",
				Timeout:    10 * time.Second,
			},
		},
		Analysis: AnalysisConfig{
			WindowMinutes:         60,
			BaselineMinutes:       60,
			MetricDeviationPct:    20,
			StaticMetricThreshold: 0,
			MaxLogClusters:        10,
			LogLimit:              1000,
			SpanLimit:             1000,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			MonitorTTL:   5 * time.Minute,
			EventsTTL:    2 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLEUTH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SLEUTH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_BASE_URL"); v != "" {
		cfg.Clients.Telemetry.BaseURL = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_METRICS_PATH"); v != "" {
		cfg.Clients.Telemetry.MetricsPath = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_LOGS_PATH"); v != "" {
		cfg.Clients.Telemetry.LogsPath = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_SPANS_PATH"); v != "" {
		cfg.Clients.Telemetry.SpansPath = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_EVENTS_PATH"); v != "" {
		cfg.Clients.Telemetry.EventsPath = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_MONITOR_PATH"); v != "" {
		cfg.Clients.Telemetry.MonitorPath = v
	}
	if v := os.Getenv("SLEUTH_TELEMETRY_LOG_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clients.Telemetry.LogMaxPages = n
		}
	}
	if v := os.Getenv("SLEUTH_REASONING_BASE_URL"); v != "" {
		cfg.Clients.Reasoning.BaseURL = v
	}
	if v := os.Getenv("SLEUTH_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.WindowMinutes = n
		}
	}
	if v := os.Getenv("SLEUTH_BASELINE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.BaselineMinutes = n
		}
	}
	if v := os.Getenv("SLEUTH_METRIC_DEVIATION_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.MetricDeviationPct = f
		}
	}
	if v := os.Getenv("SLEUTH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SLEUTH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SLEUTH_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SLEUTH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SLEUTH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SLEUTH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SLEUTH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SLEUTH_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SLEUTH_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("SLEUTH_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
	if v := os.Getenv("SLEUTH_CACHE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReadTimeout = d
		}
	}
	if v := os.Getenv("SLEUTH_CACHE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.WriteTimeout = d
		}
	}
	if v := os.Getenv("SLEUTH_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	if v := os.Getenv("SLEUTH_CACHE_MONITOR_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.MonitorTTL = d
		}
	}
	if v := os.Getenv("SLEUTH_CACHE_EVENTS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EventsTTL = d
		}
	}
}
