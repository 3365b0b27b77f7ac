// config/config.go
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-position-specific configuration.
type NormalConfig struct {
	TickIntervalMillis       int    `yaml:"tick_interval_ms"`
	SampleBufferSize         int    `yaml:"sample_buffer_size"`
	EventBufferSize          int    `yaml:"event_buffer_size"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	LogDirectory             string `yaml:"log_directory"`
	StateDirectory           string `yaml:"state_directory"`
}

// SchedulerConfig controls how hedge actions are delayed before they touch the ledger.
type SchedulerConfig struct {
	CountdownEnabled bool `yaml:"countdown_enabled"`
	CountdownSeconds int  `yaml:"countdown_seconds"`
}

// SimulationConfig drives the in-memory price feed used when no real feed is wired.
type SimulationConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Mode         string  `yaml:"mode"` // "sine" or "ramp"
	InitialPrice float64 `yaml:"initial_price"`
	Amplitude    float64 `yaml:"amplitude"`
	StepMillis   int     `yaml:"step_ms"`
}

// PositionConfig describes one protected position.
type PositionConfig struct {
	Name            string  `yaml:"name"`
	Market          string  `yaml:"market"`
	MainOrderID     string  `yaml:"main_order_id"`
	Side            string  `yaml:"side"`
	EntryPrice      float64 `yaml:"entry_price"`
	RiskLockPrice   float64 `yaml:"risk_lock_price"`
	ProfitLockPrice float64 `yaml:"profit_lock_price"`
	Quantity        float64 `yaml:"quantity"`
	PricePrecision  *int    `yaml:"price_precision"`
	Enabled         *bool   `yaml:"enabled"`
}

// IsEnabled reports whether the position is active. Positions are enabled unless explicitly switched off.
func (p *PositionConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// MainID returns the main order the position protects. It defaults to the position name.
func (p *PositionConfig) MainID() string {
	if p.MainOrderID == "" {
		return p.Name
	}
	return p.MainOrderID
}

// Precision returns the decimal places hedge prices are rounded to, or -1 when unset.
func (p *PositionConfig) Precision() int {
	if p.PricePrecision == nil {
		return -1
	}
	return *p.PricePrecision
}

// Config is the top-level configuration structure.
type Config struct {
	Positions  []*PositionConfig `yaml:"positions"`
	Scheduler  *SchedulerConfig  `yaml:"scheduler"`
	Simulation *SimulationConfig `yaml:"simulation"`
	Normal     *NormalConfig     `yaml:"normal_config"`
	Logs       *LogConfig        `yaml:"logs"`
}

// NewConfig creates a new Config with safe, non-position defaults.
// Trigger prices and quantities MUST come from config.yaml.
func NewConfig() *Config {
	return &Config{
		Scheduler: &SchedulerConfig{
			CountdownEnabled: true,
			CountdownSeconds: 10,
		},
		Simulation: &SimulationConfig{
			Mode:       "sine",
			StepMillis: 1000,
		},
		Normal: &NormalConfig{
			TickIntervalMillis:       1000,
			SampleBufferSize:         64,
			EventBufferSize:          128,
			HeartbeatIntervalMinutes: 5,
			LogDirectory:             "logs",
			StateDirectory:           "state",
		},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of NewConfig defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()

	var rawCfg struct {
		Positions  []*PositionConfig `yaml:"positions"`
		Scheduler  *SchedulerConfig  `yaml:"scheduler"`
		Simulation *SimulationConfig `yaml:"simulation"`
		Normal     *NormalConfig     `yaml:"normal_config"`
		Logs       *LogConfig        `yaml:"logs"`
	}
	// Blocks decode on top of their defaults, so a partial block keeps the fields it leaves out.
	sched := *cfg.Scheduler
	rawCfg.Scheduler = &sched
	if err := yaml.Unmarshal(data, &rawCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	cfg.Positions = rawCfg.Positions
	// Nested blocks only override when they are present.
	if rawCfg.Scheduler != nil {
		cfg.Scheduler = rawCfg.Scheduler
	}
	if rawCfg.Simulation != nil {
		cfg.Simulation = rawCfg.Simulation
		if cfg.Simulation.Mode == "" {
			cfg.Simulation.Mode = "sine"
		}
		if cfg.Simulation.StepMillis == 0 {
			cfg.Simulation.StepMillis = 1000
		}
	}
	if rawCfg.Normal != nil {
		cfg.Normal = rawCfg.Normal
	}
	if rawCfg.Logs != nil {
		cfg.Logs = rawCfg.Logs
	}

	for _, p := range cfg.Positions {
		if p == nil {
			continue
		}
		p.Side = strings.ToLower(strings.TrimSpace(p.Side))
		p.Market = strings.ToUpper(strings.TrimSpace(p.Market))
		if p.Name == "" {
			p.Name = p.Market
		}
		p.MainOrderID = p.MainID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the completeness of the configuration. Trigger price placement relative to the
// entry price is checked by the hedge engine when a position is initialized.
func (c *Config) Validate() error {
	if len(c.Positions) == 0 {
		return fmt.Errorf("critical config missing: at least one entry under 'positions' must be specified in config.yaml")
	}
	seen := make(map[string]bool, len(c.Positions))
	protected := make(map[string]string, len(c.Positions)) // main order ID -> position name
	for i, p := range c.Positions {
		if p == nil {
			return fmt.Errorf("config error: positions[%d] is empty", i)
		}
		if p.Market == "" {
			return fmt.Errorf("critical config missing: 'positions[%d].market' must be specified", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config error: position name '%s' is used more than once", p.Name)
		}
		seen[p.Name] = true
		if other, dup := protected[p.MainID()]; dup {
			return fmt.Errorf("config error: positions '%s' and '%s' both protect main order '%s'", other, p.Name, p.MainID())
		}
		protected[p.MainID()] = p.Name
		if p.Side != "buy" && p.Side != "sell" {
			return fmt.Errorf("config error: 'positions[%d].side' must be 'buy' or 'sell', got '%s'", i, p.Side)
		}
		if p.Quantity <= 0 {
			return fmt.Errorf("critical config missing: 'positions[%d].quantity' must be positive", i)
		}
		if p.EntryPrice <= 0 || p.RiskLockPrice <= 0 || p.ProfitLockPrice <= 0 {
			return fmt.Errorf("critical config missing: 'positions[%d]' entry_price, risk_lock_price and profit_lock_price must all be positive", i)
		}
		if p.PricePrecision != nil && *p.PricePrecision < 0 {
			return fmt.Errorf("config error: 'positions[%d].price_precision' cannot be negative", i)
		}
	}

	if c.Scheduler == nil {
		return fmt.Errorf("critical config missing: 'scheduler' configuration block must be provided")
	}
	if c.Scheduler.CountdownSeconds < 0 {
		return fmt.Errorf("config error: 'scheduler.countdown_seconds' cannot be negative")
	}

	if c.Simulation != nil && c.Simulation.Enabled {
		if c.Simulation.Mode != "sine" && c.Simulation.Mode != "ramp" {
			return fmt.Errorf("config error: 'simulation.mode' must be 'sine' or 'ramp'")
		}
		if c.Simulation.InitialPrice <= 0 {
			return fmt.Errorf("critical config missing: 'simulation.initial_price' must be positive when simulation is enabled")
		}
		if c.Simulation.StepMillis <= 0 {
			return fmt.Errorf("config error: 'simulation.step_ms' must be positive")
		}
	}

	if c.Normal == nil {
		return fmt.Errorf("critical config missing: 'normal_config' configuration block must be provided")
	}
	if c.Normal.TickIntervalMillis <= 0 {
		return fmt.Errorf("config error: 'normal_config.tick_interval_ms' must be positive")
	}
	if c.Normal.SampleBufferSize <= 0 || c.Normal.EventBufferSize <= 0 {
		return fmt.Errorf("config error: 'normal_config.sample_buffer_size' and 'event_buffer_size' must be positive")
	}
	if c.Normal.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("config error: 'normal_config.heartbeat_interval_minutes' must be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.log_directory' must be specified (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.state_directory' must be specified (e.g., 'state')")
	}

	if c.Logs == nil {
		return fmt.Errorf("critical config missing: 'logs' configuration block must be provided")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 || c.Logs.MaxBackups <= 0 || c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("config error: 'logs.max_size_mb', 'logs.max_backups' and 'logs.max_age_days' must be positive")
	}

	return nil
}

// EnvConfig carries process-level overrides read from the environment (.env is loaded by main).
type EnvConfig struct {
	StateDirectory string
	LogLevel       string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		StateDirectory: os.Getenv("HEDGE_STATE_DIR"),
		LogLevel:       os.Getenv("HEDGE_LOG_LEVEL"),
	}
}

// Apply overlays non-empty environment values onto cfg.
func (e *EnvConfig) Apply(cfg *Config) {
	if e.StateDirectory != "" {
		cfg.Normal.StateDirectory = e.StateDirectory
	}
	if e.LogLevel != "" {
		cfg.Logs.LogLevel = e.LogLevel
	}
}
