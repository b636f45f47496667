// Package application loads configuration and composes the decision core
// into a runnable service.
package application

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apexguard/guardian/internal/advisor"
	"github.com/apexguard/guardian/internal/cadence"
	"github.com/apexguard/guardian/internal/compliance"
	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/engine"
	"github.com/apexguard/guardian/internal/gateway"
	httpapi "github.com/apexguard/guardian/internal/interfaces/http"
	"github.com/apexguard/guardian/internal/ledger"
	"github.com/apexguard/guardian/internal/risk"
	"github.com/apexguard/guardian/internal/sizing"
)

// Config is the full service configuration. Durations are expressed in
// seconds/milliseconds so the YAML stays human-editable.
type Config struct {
	Account struct {
		InitialEquity float64 `yaml:"initial_equity"`
	} `yaml:"account"`

	Ledger  ledger.Config     `yaml:"ledger"`
	Sizing  sizing.Config     `yaml:"sizing"`
	Risk    risk.Config       `yaml:"risk"`
	Cadence cadence.Config    `yaml:"cadence"`
	Limits  compliance.Limits `yaml:"limits"`

	Session struct {
		SplitHour int `yaml:"split_hour"` // AM/PM boundary
		StartHour int `yaml:"start_hour"` // predictive projection window
		EndHour   int `yaml:"end_hour"`
	} `yaml:"session"`

	Engine struct {
		MinTier                  string  `yaml:"min_tier"`
		QueueSize                int     `yaml:"queue_size"`
		FullConfidence           float64 `yaml:"full_confidence"`
		CautiousConfidence       float64 `yaml:"cautious_confidence"`
		CautiousSizeFactor       float64 `yaml:"cautious_size_factor"`
		RiskStateIntervalSeconds int     `yaml:"risk_state_interval_seconds"`
	} `yaml:"engine"`

	Gateway struct {
		BufferSize     int `yaml:"buffer_size"`
		MaxRetries     int `yaml:"max_retries"`
		InitialDelayMs int `yaml:"initial_delay_ms"`
		MaxDelayMs     int `yaml:"max_delay_ms"`
	} `yaml:"gateway"`

	Advisor struct {
		Enabled        bool    `yaml:"enabled"`
		Endpoint       string  `yaml:"endpoint"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
	} `yaml:"advisor"`

	HTTP struct {
		Host                string `yaml:"host"`
		Port                int    `yaml:"port"`
		ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
	} `yaml:"http"`

	Redis struct {
		Addr               string `yaml:"addr"` // empty disables the redis snapshot store
		DB                 int    `yaml:"db"`
		SnapshotTTLSeconds int    `yaml:"snapshot_ttl_seconds"`
	} `yaml:"redis"`

	Postgres struct {
		DSN            string `yaml:"dsn"` // empty disables persistence
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"postgres"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns the full documented default configuration.
func DefaultConfig() Config {
	var c Config
	c.Account.InitialEquity = 50000
	c.Ledger = ledger.DefaultConfig()
	c.Sizing = sizing.DefaultConfig()
	c.Risk = risk.DefaultConfig()
	c.Cadence = cadence.DefaultConfig()
	c.Limits = compliance.DefaultLimits()
	c.Session.SplitHour = 12
	c.Session.StartHour = 9
	c.Session.EndHour = 17

	ec := engine.DefaultConfig()
	c.Engine.MinTier = ec.MinTier.String()
	c.Engine.QueueSize = ec.QueueSize
	c.Engine.FullConfidence = ec.FullConfidence
	c.Engine.CautiousConfidence = ec.CautiousConfidence
	c.Engine.CautiousSizeFactor = ec.CautiousSizeFactor
	c.Engine.RiskStateIntervalSeconds = int(ec.RiskStateInterval / time.Second)

	gc := gateway.DefaultConfig()
	c.Gateway.BufferSize = gc.BufferSize
	c.Gateway.MaxRetries = gc.MaxRetries
	c.Gateway.InitialDelayMs = int(gc.InitialDelay / time.Millisecond)
	c.Gateway.MaxDelayMs = int(gc.MaxDelay / time.Millisecond)

	ac := advisor.DefaultConfig()
	c.Advisor.TimeoutSeconds = int(ac.Timeout / time.Second)
	c.Advisor.RatePerSecond = ac.RatePerSecond
	c.Advisor.Burst = ac.Burst

	sc := httpapi.DefaultServerConfig()
	c.HTTP.Host = sc.Host
	c.HTTP.Port = sc.Port
	c.HTTP.ReadTimeoutSeconds = int(sc.ReadTimeout / time.Second)
	c.HTTP.WriteTimeoutSeconds = int(sc.WriteTimeout / time.Second)
	c.HTTP.IdleTimeoutSeconds = int(sc.IdleTimeout / time.Second)

	c.Redis.SnapshotTTLSeconds = 24 * 3600
	c.Postgres.TimeoutSeconds = 5
	c.Log.Level = "info"
	return c
}

// Load reads the YAML file over the defaults. An empty path returns the
// defaults unchanged; a path that cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working service.
func (c Config) Validate() error {
	if c.Account.InitialEquity <= 0 {
		return fmt.Errorf("account.initial_equity must be positive")
	}
	if _, ok := domain.ParseTier(c.Engine.MinTier); !ok {
		return fmt.Errorf("engine.min_tier %q is not one of L1..L4", c.Engine.MinTier)
	}
	if c.Session.SplitHour < 1 || c.Session.SplitHour > 23 {
		return fmt.Errorf("session.split_hour must be in [1,23]")
	}
	if c.Session.StartHour >= c.Session.EndHour {
		return fmt.Errorf("session.start_hour must precede session.end_hour")
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if c.Advisor.Enabled && c.Advisor.Endpoint == "" {
		return fmt.Errorf("advisor.endpoint required when advisor is enabled")
	}
	return nil
}

// EngineConfig converts the YAML shape into the engine's typed config.
func (c Config) EngineConfig() engine.Config {
	tier, _ := domain.ParseTier(c.Engine.MinTier)
	return engine.Config{
		MinTier:            tier,
		SessionSplitHour:   c.Session.SplitHour,
		QueueSize:          c.Engine.QueueSize,
		FullConfidence:     c.Engine.FullConfidence,
		CautiousConfidence: c.Engine.CautiousConfidence,
		CautiousSizeFactor: c.Engine.CautiousSizeFactor,
		RiskStateInterval:  time.Duration(c.Engine.RiskStateIntervalSeconds) * time.Second,
	}
}

// GatewayConfig converts the YAML shape into the gateway's typed config.
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		BufferSize:   c.Gateway.BufferSize,
		MaxRetries:   c.Gateway.MaxRetries,
		InitialDelay: time.Duration(c.Gateway.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.Gateway.MaxDelayMs) * time.Millisecond,
	}
}

// AdvisorConfig converts the YAML shape into the advisor's typed config.
func (c Config) AdvisorConfig() advisor.Config {
	return advisor.Config{
		Enabled:       c.Advisor.Enabled,
		Endpoint:      c.Advisor.Endpoint,
		Timeout:       time.Duration(c.Advisor.TimeoutSeconds) * time.Second,
		RatePerSecond: c.Advisor.RatePerSecond,
		Burst:         c.Advisor.Burst,
	}
}

// ServerConfig converts the YAML shape into the HTTP server's typed config.
func (c Config) ServerConfig() httpapi.ServerConfig {
	return httpapi.ServerConfig{
		Host:         c.HTTP.Host,
		Port:         c.HTTP.Port,
		ReadTimeout:  time.Duration(c.HTTP.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(c.HTTP.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(c.HTTP.IdleTimeoutSeconds) * time.Second,
	}
}

// SnapshotTTL returns the redis snapshot expiry.
func (c Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Redis.SnapshotTTLSeconds) * time.Second
}

// PostgresTimeout returns the per-query timeout for the repositories.
func (c Config) PostgresTimeout() time.Duration {
	return time.Duration(c.Postgres.TimeoutSeconds) * time.Second
}
