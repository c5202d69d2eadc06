// Package config loads the signalgate YAML configuration. Defaults come from struct tags,
// the file is decoded over them and the result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/signalgate/internal/alpha"
	"github.com/sawpanic/signalgate/internal/confidence"
	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/domain/session"
	"github.com/sawpanic/signalgate/internal/eod"
	"github.com/sawpanic/signalgate/internal/gates"
	"github.com/sawpanic/signalgate/internal/providers"
	"github.com/sawpanic/signalgate/internal/watchlist"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid config")

// Config is the complete runtime configuration
type Config struct {
	Session    session.Config        `yaml:"session"`
	System     gates.SystemConfig    `yaml:"system"`
	Regime     RegimeConfig          `yaml:"regime"`
	Universe   gates.UniverseConfig  `yaml:"universe"`
	Consensus  gates.ConsensusConfig `yaml:"consensus"`
	Liquidity  gates.LiquidityConfig `yaml:"liquidity"`
	Trigger    gates.TriggerConfig   `yaml:"trigger"`
	Validator  gates.ValidatorConfig `yaml:"validator"`
	Confidence confidence.Config     `yaml:"confidence"`
	Alpha      alpha.Config          `yaml:"alpha"`
	EOD        eod.Config            `yaml:"eod"`
	Pipeline   PipelineConfig        `yaml:"pipeline"`
	Cache      CacheConfig           `yaml:"cache"`
	Providers  ProvidersConfig       `yaml:"providers"`
	Watchlist  WatchlistConfig       `yaml:"watchlist"`
	Server     ServerConfig          `yaml:"server"`
	Log        LogConfig             `yaml:"log"`
}

// RegimeConfig groups detection, weight tilting and the regime gate
type RegimeConfig struct {
	Detector regime.DetectorConfig  `yaml:"detector"`
	Adjuster regime.AdjusterConfig  `yaml:"adjuster"`
	Gate     gates.RegimeGateConfig `yaml:"gate"`
	// RefreshInterval is how often serve re-detects the regime from index bars
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"5m"`
}

// PipelineConfig controls batch evaluation
type PipelineConfig struct {
	Workers int `yaml:"workers" default:"4" validate:"min=1,max=64"`
	// BarLookback is how many base bars are fetched per candidate
	BarLookback int    `yaml:"bar_lookback" default:"300" validate:"min=30"`
	IndexCode   string `yaml:"index_code" default:"KOSPI"`
	// TopN limits candidates after universe ranking, 0 keeps all
	TopN int `yaml:"top_n" default:"0" validate:"min=0"`
}

// CacheConfig bounds the per-code caches
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries" default:"2048" validate:"min=1"`
	JanitorInterval time.Duration `yaml:"janitor_interval" default:"5m"`
}

// ProvidersConfig configures the upstream guard and the offline fixture
type ProvidersConfig struct {
	Guard   providers.GuardConfig `yaml:"guard"`
	Fixture string                `yaml:"fixture"`
}

// WatchlistConfig selects the watchlist backend
type WatchlistConfig struct {
	Backend string                `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	Redis   watchlist.RedisConfig `yaml:"redis"`
}

// ServerConfig configures the HTTP endpoints
type ServerConfig struct {
	Addr              string        `yaml:"addr" default:":9090" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// LogConfig configures zerolog
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	// Format is auto (console on a terminal), console or json
	Format string `yaml:"format" default:"auto" validate:"oneof=auto console json"`
}

var validate = validator.New()

// Default returns the configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads path; an empty path yields the validated defaults
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := session.NewCalendar(c.Session); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Regime.Detector.LowVolPct >= c.Regime.Detector.HighVolPct {
		return fmt.Errorf("%w: regime low_vol_pct %.2f must be below high_vol_pct %.2f",
			ErrInvalid, c.Regime.Detector.LowVolPct, c.Regime.Detector.HighVolPct)
	}
	for _, r := range c.Regime.Gate.Blocked {
		if _, err := regime.ParseRegime(string(r)); err != nil {
			return fmt.Errorf("%w: regime gate: %v", ErrInvalid, err)
		}
	}
	if c.Confidence.ExploratoryFloor > c.Confidence.MinConfidence {
		return fmt.Errorf("%w: confidence exploratory_floor %.2f above min_confidence %.2f",
			ErrInvalid, c.Confidence.ExploratoryFloor, c.Confidence.MinConfidence)
	}
	if c.Confidence.ExploratorySize > c.Confidence.ScaleStart {
		return fmt.Errorf("%w: confidence exploratory_size %.2f above scale_start %.2f",
			ErrInvalid, c.Confidence.ExploratorySize, c.Confidence.ScaleStart)
	}
	for stage, w := range c.Confidence.Weights {
		if w < 0 {
			return fmt.Errorf("%w: confidence weight for %s is negative", ErrInvalid, stage)
		}
	}
	if c.Watchlist.Backend == "redis" && c.Watchlist.Redis.Addr == "" {
		return fmt.Errorf("%w: watchlist redis backend needs an address", ErrInvalid)
	}
	return nil
}
