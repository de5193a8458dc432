/*
Package config loads the engine configuration.

PURPOSE:
  Externalizes every tunable the scheduling core depends on - scoring tiers,
  pool quotas, the adjustment recurrence weekday, and the identifier period
  epoch - so the core logic carries no embedded constants.

SOURCES (in precedence order):
  1. Environment variables (PRODENGINE_ prefix, dots become underscores)
  2. Config file (engine.yaml, path via --config)
  3. Defaults below

EPOCH:
  period.epoch is the externally supplied calibration constant. It moves only
  through the audited calibrate operation, never by editing code.

SEE ALSO:
  - engine/score.go, engine/capacity.go, engine/adjust.go: Consumers
  - cmd/server: Flag binding
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/production-engine/engine"
)

// Config is the full engine configuration.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Period struct {
		Epoch      string `mapstructure:"epoch"` // YYYY-MM-DD
		LengthDays int    `mapstructure:"length_days"`
	} `mapstructure:"period"`

	Scoring struct {
		Base         int `mapstructure:"base"`
		OverdueBonus int `mapstructure:"overdue_bonus"`
		Tiers        []struct {
			MaxDays int    `mapstructure:"max_days"`
			Bonus   int    `mapstructure:"bonus"`
			Label   string `mapstructure:"label"`
		} `mapstructure:"tiers"`
	} `mapstructure:"scoring"`

	Capacity struct {
		DefaultQuota int            `mapstructure:"default_quota"`
		Pools        map[string]int `mapstructure:"pools"`
	} `mapstructure:"capacity"`

	Adjustment struct {
		RecurrenceWeekday string `mapstructure:"recurrence_weekday"`
		PassInterval      string `mapstructure:"pass_interval"`
	} `mapstructure:"adjustment"`

	Store struct {
		Timeout string `mapstructure:"timeout"`
	} `mapstructure:"store"`
}

// Load reads configuration from defaults, an optional file and environment.
// An empty path skips the file source.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PRODENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.path", "production.db")
	v.SetDefault("period.epoch", "2024-01-01")
	v.SetDefault("period.length_days", 14)
	v.SetDefault("scoring.base", 100)
	v.SetDefault("scoring.overdue_bonus", 1000)
	v.SetDefault("scoring.tiers", []map[string]any{
		{"max_days": 7, "bonus": 500, "label": "high"},
		{"max_days": 14, "bonus": 250, "label": "medium"},
		{"max_days": 30, "bonus": 100, "label": "normal"},
	})
	v.SetDefault("capacity.default_quota", 8)
	v.SetDefault("adjustment.recurrence_weekday", "Monday")
	v.SetDefault("adjustment.pass_interval", "1h")
	v.SetDefault("store.timeout", "3s")
}

// Validate checks the parseable fields.
func (c *Config) Validate() error {
	if _, err := engine.ParseDay(c.Period.Epoch); err != nil {
		return fmt.Errorf("period.epoch must be YYYY-MM-DD: %w", err)
	}
	if c.Period.LengthDays <= 0 {
		return fmt.Errorf("period.length_days must be positive")
	}
	if _, err := parseWeekday(c.Adjustment.RecurrenceWeekday); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Adjustment.PassInterval); err != nil {
		return fmt.Errorf("adjustment.pass_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Store.Timeout); err != nil {
		return fmt.Errorf("store.timeout: %w", err)
	}
	for pool, quota := range c.Capacity.Pools {
		if quota <= 0 {
			return fmt.Errorf("capacity.pools.%s must be positive", pool)
		}
	}
	return nil
}

// =============================================================================
// TYPED ACCESSORS - Convert raw config to engine configs
// =============================================================================

// Codec builds the period codec from the configured epoch and length.
func (c *Config) Codec() engine.Codec {
	epoch, _ := engine.ParseDay(c.Period.Epoch)
	return engine.NewCodec(epoch.Time, c.Period.LengthDays)
}

// ScoringConfig converts the scoring section.
func (c *Config) ScoringConfig() engine.ScoringConfig {
	cfg := engine.ScoringConfig{
		BaseScore:    c.Scoring.Base,
		OverdueBonus: c.Scoring.OverdueBonus,
	}
	for _, t := range c.Scoring.Tiers {
		cfg.Tiers = append(cfg.Tiers, engine.ScoreTier{
			MaxDaysToDue: t.MaxDays,
			Bonus:        t.Bonus,
			Label:        engine.UrgencyLabel(t.Label),
		})
	}
	if len(cfg.Tiers) == 0 {
		cfg = engine.DefaultScoringConfig()
	}
	return cfg
}

// CapacityConfig converts the capacity section.
func (c *Config) CapacityConfig() engine.CapacityConfig {
	cfg := engine.CapacityConfig{DefaultQuota: c.Capacity.DefaultQuota}
	if len(c.Capacity.Pools) > 0 {
		cfg.PoolQuotas = make(map[engine.PoolKey]int, len(c.Capacity.Pools))
		for pool, quota := range c.Capacity.Pools {
			cfg.PoolQuotas[engine.PoolKey(pool)] = quota
		}
	}
	return cfg
}

// AdjustmentConfig converts the adjustment section.
func (c *Config) AdjustmentConfig() engine.AdjustmentConfig {
	wd, _ := parseWeekday(c.Adjustment.RecurrenceWeekday)
	return engine.AdjustmentConfig{RecurrenceWeekday: wd}
}

// PassInterval returns the background pass cadence.
func (c *Config) PassInterval() time.Duration {
	d, _ := time.ParseDuration(c.Adjustment.PassInterval)
	return d
}

// StoreTimeout returns the per-call backing store timeout.
func (c *Config) StoreTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Store.Timeout)
	return d
}

func parseWeekday(name string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), name) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("adjustment.recurrence_weekday: unknown weekday %q", name)
}
