package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Engine struct {
		TargetFPS         int           `yaml:"target_fps"`
		SendTimeout       time.Duration `yaml:"send_timeout"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		LivenessWindow    time.Duration `yaml:"liveness_window"`
		CooldownTicks     int           `yaml:"cooldown_ticks"`
	} `yaml:"engine"`

	Transport struct {
		PrimaryURL           string        `yaml:"primary_url"`
		FallbackURL          string        `yaml:"fallback_url"`
		HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
		MaxAttempts          int           `yaml:"max_attempts"`
		BaseDelay            time.Duration `yaml:"base_delay"`
		PrimaryRetryInterval time.Duration `yaml:"primary_retry_interval"`
	} `yaml:"transport"`

	Relay struct {
		Address         string        `yaml:"address"`
		AnalyzerURL     string        `yaml:"analyzer_url"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"relay"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		PairingSecret   string        `yaml:"pairing_secret"`
		PairingTokenTTL time.Duration `yaml:"pairing_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Engine.TargetFPS <= 0 || c.Engine.TargetFPS > 60 {
		return fmt.Errorf("engine.target_fps must be in (0, 60]")
	}
	if c.Engine.SendTimeout <= 0 {
		return fmt.Errorf("engine.send_timeout must be > 0")
	}
	if c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine.heartbeat_interval must be > 0")
	}
	if c.Engine.LivenessWindow <= c.Engine.HeartbeatInterval {
		return fmt.Errorf("engine.liveness_window must be > engine.heartbeat_interval")
	}
	if c.Engine.CooldownTicks < 0 {
		return fmt.Errorf("engine.cooldown_ticks must be >= 0")
	}

	if c.Transport.PrimaryURL == "" {
		return fmt.Errorf("transport.primary_url must not be empty")
	}
	if c.Transport.FallbackURL == "" {
		return fmt.Errorf("transport.fallback_url must not be empty")
	}
	if c.Transport.HandshakeTimeout <= 0 {
		return fmt.Errorf("transport.handshake_timeout must be > 0")
	}
	if c.Transport.MaxAttempts <= 0 {
		return fmt.Errorf("transport.max_attempts must be > 0")
	}
	if c.Transport.BaseDelay <= 0 {
		return fmt.Errorf("transport.base_delay must be > 0")
	}
	if c.Transport.PrimaryRetryInterval <= 0 {
		return fmt.Errorf("transport.primary_retry_interval must be > 0")
	}

	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.ReadTimeout <= 0 {
		return fmt.Errorf("relay.read_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay.shutdown_timeout must be > 0")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.PairingSecret == "" {
		return fmt.Errorf("auth.pairing_secret must not be empty")
	}
	if c.Auth.PairingTokenTTL <= 0 {
		return fmt.Errorf("auth.pairing_token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applying defaults and env
// overrides. A missing file is an error (wrapping os.ErrNotExist) so callers
// probing several candidate paths can tell "absent" from "broken".
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst reads the first candidate path that exists. When none does, it
// returns the defaults with env overrides applied.
func LoadFirst(paths ...string) (*Config, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Engine.TargetFPS = 10
	cfg.Engine.SendTimeout = 5 * time.Second
	cfg.Engine.HeartbeatInterval = 3 * time.Second
	cfg.Engine.LivenessWindow = 8 * time.Second
	cfg.Engine.CooldownTicks = 10

	cfg.Transport.PrimaryURL = "ws://localhost:8000/ws/proctor"
	cfg.Transport.FallbackURL = "http://localhost:8000"
	cfg.Transport.HandshakeTimeout = 5 * time.Second
	cfg.Transport.MaxAttempts = 5
	cfg.Transport.BaseDelay = time.Second
	cfg.Transport.PrimaryRetryInterval = 30 * time.Second

	cfg.Relay.Address = ":8000"
	cfg.Relay.AnalyzerURL = ""
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.ReadTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "proctorlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.PairingSecret = "change-me-in-production"
	cfg.Auth.PairingTokenTTL = 5 * time.Minute

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PROCTORLINK_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if u := os.Getenv("PROCTORLINK_PRIMARY_URL"); u != "" {
		c.Transport.PrimaryURL = u
	}
	if u := os.Getenv("PROCTORLINK_FALLBACK_URL"); u != "" {
		c.Transport.FallbackURL = u
	}
	if level := os.Getenv("PROCTORLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PROCTORLINK_PAIRING_SECRET"); secret != "" {
		c.Auth.PairingSecret = secret
	}
}
