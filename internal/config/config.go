// Package config loads the scanner's startup configuration from a YAML
// file, applying environment-variable overrides and the reference
// defaults named throughout the scan orchestration design before a single
// scan is started.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of startup options recognized by the scanner
// process: coordinator tuning, cache policy, scan defaults, websocket
// limits, and circuit breaker thresholds.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Cache       CacheConfig       `yaml:"cache"`
	Scan        ScanConfig        `yaml:"scan"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

type CoordinatorConfig struct {
	Workers               int           `yaml:"workers"`
	MaxConcurrent         int64         `yaml:"max_concurrent"`
	QueueCapacity         int           `yaml:"queue_capacity"`
	AdaptiveBackpressure  bool          `yaml:"adaptive_backpressure"`
	CoalesceWindow        time.Duration `yaml:"coalesce_window"`
	MaxSymbolsPerCall     int           `yaml:"max_symbols_per_call"`
	HealthPollInterval    time.Duration `yaml:"health_poll_interval"`
	QueueThresholdLow     int           `yaml:"queue_threshold_low"`
	QueueThresholdMedium  int           `yaml:"queue_threshold_medium"`
	QueueThresholdHigh    int           `yaml:"queue_threshold_high"`
	QueueThresholdCritical int          `yaml:"queue_threshold_critical"`
}

type CacheConfig struct {
	Size           int           `yaml:"size"`
	TTLDefault     time.Duration `yaml:"ttl_default"`
	EvictionPolicy string        `yaml:"eviction_policy"`
}

type ScanConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MaxResults      int           `yaml:"max_results"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	QueueSize      int           `yaml:"queue_size"`
	MaxConnections int           `yaml:"max_connections"`
}

type CircuitConfig struct {
	MaxFailures  uint32        `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// GatewayConfig addresses the out-of-scope brokerage market-data gateway
// collaborator; the coordinator only ever sees it through the Gateway
// interface, but something in the process has to know where it lives.
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Pretty bool  `yaml:"pretty"`
}

// Default returns the reference configuration: every threshold and pool
// size named in the scanner's external-interface section.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			IdleTimeout:        60 * time.Second,
			DrainTimeout:       10 * time.Second,
			RateLimitPerMinute: 600,
		},
		Coordinator: CoordinatorConfig{
			Workers:                8,
			MaxConcurrent:          10,
			QueueCapacity:          256,
			AdaptiveBackpressure:   true,
			CoalesceWindow:         50 * time.Millisecond,
			MaxSymbolsPerCall:      50,
			HealthPollInterval:     5 * time.Second,
			QueueThresholdLow:      25,
			QueueThresholdMedium:   50,
			QueueThresholdHigh:     75,
			QueueThresholdCritical: 100,
		},
		Cache: CacheConfig{
			Size:           512,
			TTLDefault:     5 * time.Minute,
			EvictionPolicy: "lru",
		},
		Scan: ScanConfig{
			DefaultInterval: 5 * time.Second,
			MaxConcurrent:   50,
			MaxResults:      50,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			QueueSize:      256,
			MaxConnections: 1000,
		},
		Circuit: CircuitConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads a YAML config file over the reference defaults. A missing
// path is not an error: the caller gets Default() back untouched, so the
// process can run with no config file present.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(newEnvExpandingReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
