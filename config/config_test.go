package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/config"
	"github.com/warp/production-engine/engine"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "production.db", cfg.DB.Path)
	assert.Equal(t, 14, cfg.Codec().PeriodLengthDays)
	assert.Equal(t, 8, cfg.CapacityConfig().DefaultQuota)
	assert.Equal(t, time.Monday, cfg.AdjustmentConfig().RecurrenceWeekday)
	assert.Equal(t, time.Hour, cfg.PassInterval())
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout())
}

func TestLoad_DefaultScoringMatchesEngine(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, engine.DefaultScoringConfig(), cfg.ScoringConfig())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 3000
period:
  epoch: "2025-06-02"
  length_days: 7
capacity:
  default_quota: 4
  pools:
    line-b: 2
adjustment:
  recurrence_weekday: Friday
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Codec().PeriodLengthDays)
	assert.Equal(t, 4, cfg.CapacityConfig().DefaultQuota)
	assert.Equal(t, 2, cfg.CapacityConfig().QuotaFor("line-b"))
	assert.Equal(t, time.Friday, cfg.AdjustmentConfig().RecurrenceWeekday)

	epoch, _ := engine.ParseDay("2025-06-02")
	assert.Equal(t, epoch.Time, cfg.Codec().Epoch)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad epoch", "period:\n  epoch: \"June 2025\"\n"},
		{"zero period length", "period:\n  length_days: 0\n"},
		{"unknown weekday", "adjustment:\n  recurrence_weekday: Moonday\n"},
		{"bad pass interval", "adjustment:\n  pass_interval: soon\n"},
		{"non-positive pool quota", "capacity:\n  pools:\n    line-a: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "engine.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate())
}
