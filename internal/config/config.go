// Package config provides configuration management for the
// arbitrage engine. Grounded on the teacher's internal/config/config.go:
// nested yaml-tagged structs, environment-variable expansion before
// decode, strict unknown-field rejection, and a Validate pass
// separate from decode so every failure carries a single
// actionable message.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/arbitrate/engine/internal/engineerr"
	"github.com/arbitrate/engine/internal/money"
)

// Config is the complete, validated engine configuration.
type Config struct {
	Environment EnvironmentConfig    `yaml:"environment"`
	Schedule    ScheduleConfig       `yaml:"schedule"`
	Risk        RiskConfig           `yaml:"risk"`
	Detection   DetectionConfig      `yaml:"detection"`
	Venues      VenuesConfig         `yaml:"venues"`
	Storage     StorageConfig        `yaml:"storage"`
	Pairs       []ContractPairConfig `yaml:"contract_pairs"`
}

// EnvironmentConfig selects runtime mode and log verbosity/format.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// ScheduleConfig controls the polling scheduler's cadence.
type ScheduleConfig struct {
	PollingIntervalMs int `yaml:"polling_interval_ms"` // [1000, 300000]
}

// RiskConfig is the risk manager's construction-time limits.
type RiskConfig struct {
	BankrollUSD    float64 `yaml:"bankroll_usd"`     // > 0
	MaxPositionPct float64 `yaml:"max_position_pct"` // 0 < x <= 1
	MaxOpenPairs   int     `yaml:"max_open_pairs"`   // positive int
	DailyLossPct   float64 `yaml:"daily_loss_pct"`   // 0 < x <= 1
}

// DetectionConfig is the detector/edge-calculator's thresholds.
type DetectionConfig struct {
	MinEdgeThreshold float64 `yaml:"min_edge_threshold"` // >= 0
	GasEstimateUSD   float64 `yaml:"gas_estimate_usd"`   // >= 0
	PositionSizeUSD  float64 `yaml:"position_size_usd"`  // > 0
}

// VenueConfig is one venue's connection settings.
type VenueConfig struct {
	PlatformID string `yaml:"platform_id"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Mode       string `yaml:"mode"` // live | paper
}

// VenuesConfig holds the two venues this engine arbitrages between.
type VenuesConfig struct {
	Polymarket VenueConfig `yaml:"polymarket"`
	Kalshi     VenueConfig `yaml:"kalshi"`
}

// ContractPairConfig is one verified cross-venue pair from the
// operator-maintained pair list.
type ContractPairConfig struct {
	PolymarketID     string `yaml:"polymarket_id"`
	KalshiID         string `yaml:"kalshi_id"`
	EventDescription string `yaml:"event_description"`
	PrimaryLeg       string `yaml:"primary_leg"` // A | B
}

// StorageConfig points at the JSON persistence directory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads, expands, decodes, and validates the YAML config at
// path. Any failure is a ConfigValidation error: fatal at startup per
// spec section 7.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	raw, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config file
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfigValidation, "config.Load", "reading config file", err)
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, engineerr.Wrap(engineerr.KindConfigValidation, "config.Load", "parsing config", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data"
	}
}

// Validate checks every invariant spec section 6 names, returning
// the first violation as a KindConfigValidation error.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return engineerr.New(engineerr.KindConfigValidation, op, "environment.mode must be 'paper' or 'live'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return engineerr.New(engineerr.KindConfigValidation, op, "environment.log_level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(c.Environment.LogFormat) {
	case "text", "json":
	default:
		return engineerr.New(engineerr.KindConfigValidation, op, "environment.log_format must be 'text' or 'json'")
	}

	if c.Schedule.PollingIntervalMs < 1000 || c.Schedule.PollingIntervalMs > 300000 {
		return engineerr.New(engineerr.KindConfigValidation, op, "schedule.polling_interval_ms must be in [1000, 300000]")
	}

	if c.Risk.BankrollUSD <= 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "risk.bankroll_usd must be > 0")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return engineerr.New(engineerr.KindConfigValidation, op, "risk.max_position_pct must be in (0, 1]")
	}
	if c.Risk.MaxOpenPairs <= 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "risk.max_open_pairs must be a positive integer")
	}
	if c.Risk.DailyLossPct <= 0 || c.Risk.DailyLossPct > 1 {
		return engineerr.New(engineerr.KindConfigValidation, op, "risk.daily_loss_pct must be in (0, 1]")
	}

	if c.Detection.MinEdgeThreshold < 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "detection.min_edge_threshold must be >= 0")
	}
	if c.Detection.GasEstimateUSD < 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "detection.gas_estimate_usd must be >= 0")
	}
	if c.Detection.PositionSizeUSD <= 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "detection.position_size_usd must be > 0")
	}

	if err := validateVenue("venues.polymarket", c.Venues.Polymarket); err != nil {
		return err
	}
	if err := validateVenue("venues.kalshi", c.Venues.Kalshi); err != nil {
		return err
	}

	if len(c.Pairs) == 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "contract_pairs must contain at least one pair")
	}
	seenPoly := make(map[string]bool, len(c.Pairs))
	seenKalshi := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		if p.PolymarketID == "" || p.KalshiID == "" {
			return engineerr.New(engineerr.KindConfigValidation, op, fmt.Sprintf("contract_pairs[%d]: polymarket_id and kalshi_id are required", i))
		}
		if p.PrimaryLeg != "A" && p.PrimaryLeg != "B" {
			return engineerr.New(engineerr.KindConfigValidation, op, fmt.Sprintf("contract_pairs[%d]: primary_leg must be 'A' or 'B'", i))
		}
		if seenPoly[p.PolymarketID] {
			return engineerr.New(engineerr.KindConfigValidation, op, fmt.Sprintf("contract_pairs[%d]: duplicate polymarket_id %q", i, p.PolymarketID))
		}
		if seenKalshi[p.KalshiID] {
			return engineerr.New(engineerr.KindConfigValidation, op, fmt.Sprintf("contract_pairs[%d]: duplicate kalshi_id %q", i, p.KalshiID))
		}
		seenPoly[p.PolymarketID] = true
		seenKalshi[p.KalshiID] = true
	}

	return nil
}

func validateVenue(prefix string, v VenueConfig) error {
	if strings.TrimSpace(v.PlatformID) == "" {
		return engineerr.New(engineerr.KindConfigValidation, "config.Validate", prefix+".platform_id is required")
	}
	if strings.TrimSpace(v.BaseURL) == "" {
		return engineerr.New(engineerr.KindConfigValidation, "config.Validate", prefix+".base_url is required")
	}
	if v.Mode != "live" && v.Mode != "paper" {
		return engineerr.New(engineerr.KindConfigValidation, "config.Validate", prefix+".mode must be 'live' or 'paper'")
	}
	return nil
}

// PollingInterval is Schedule.PollingIntervalMs as a time.Duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Schedule.PollingIntervalMs) * time.Millisecond
}

// RiskLimits adapts the flat YAML risk fields into money.Decimal form
// for the risk manager's constructor.
func (c *Config) RiskLimits() (bankroll, maxPositionPct, dailyLossPct money.Decimal, maxOpenPairs int, err error) {
	bankroll, err = money.NewFromFloat(c.Risk.BankrollUSD)
	if err != nil {
		return
	}
	maxPositionPct, err = money.NewFromFloat(c.Risk.MaxPositionPct)
	if err != nil {
		return
	}
	dailyLossPct, err = money.NewFromFloat(c.Risk.DailyLossPct)
	if err != nil {
		return
	}
	maxOpenPairs = c.Risk.MaxOpenPairs
	return
}
