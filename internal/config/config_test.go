package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
	"github.com/ndrandal/harvest-exchange/internal/market"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Simulation.TickInterval)
	assert.Equal(t, 1, cfg.Simulation.StartDay)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, market.DefaultConfig(), cfg.MarketConfig())
	assert.Len(t, cfg.CommodityConfigs(), len(commodity.Defaults()))
}

func TestLoadFileOverlaysMarket(t *testing.T) {
	path := writeConfig(t, `
simulation:
  ticks_per_day: 48
  tick_interval: 2s
market:
  risk_free_rate: 0.01
  impact:
    decay_rate: 0.9
    window: 10
  clamp_fundamental: false
festivals:
  summer: [3, 99]
commodities:
  - id: corn
    name: Corn
    category: crop
    base_price: 50
    base_demand: 100
    base_supply: 100
    seasons: [summer, fall]
    margin_ratio: 0.1
  - id: broken
    base_price: 0
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	mc := cfg.MarketConfig()
	assert.Equal(t, 48, mc.TicksPerDay)
	assert.Equal(t, 2*time.Second, cfg.Simulation.TickInterval)
	assert.InDelta(t, 0.01, mc.RiskFreeRate, 1e-12)
	assert.InDelta(t, 0.9, mc.Impact.DecayRate, 1e-12)
	assert.Equal(t, 10, mc.Impact.Window)
	assert.InDelta(t, market.DefaultConfig().Impact.MaxImpact, mc.Impact.MaxImpact, 1e-12)
	assert.False(t, mc.ClampFundamental)
	assert.Equal(t, map[commodity.Season][]int{commodity.Summer: {3}}, mc.Festivals, "out of range day dropped")

	cs := cfg.CommodityConfigs()
	require.Len(t, cs, 1)
	assert.Equal(t, "corn", cs[0].ID)
	assert.Equal(t, []commodity.Season{commodity.Summer, commodity.Fall}, cs[0].GrowingSeasons)
}

func TestInvalidValuesDegrade(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 70000
storage:
  backend: cassandra
  retention_days: -3
market:
  impact:
    decay_rate: 1.5
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Zero(t, cfg.Storage.RetentionDays)
	assert.InDelta(t, market.DefaultConfig().Impact.DecayRate, cfg.MarketConfig().Impact.DecayRate, 1e-12)
}

func TestParseErrorReturned(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestEnvThenFlags(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\nlog:\n  level: warn\n")
	t.Setenv("HARVEST_PORT", "9100")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load([]string{"-config", path, "-seed", "42", "-storage", "none"})
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port, "env beats file")
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, int64(42), cfg.Simulation.Seed)
	assert.Equal(t, BackendNone, cfg.Storage.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)

	cfg, err = Load([]string{"-config", path, "-port", "9200"})
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port, "flag beats env")
}

func TestShippedConfigParses(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("..", "..", DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, market.DefaultConfig(), cfg.MarketConfig())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	assert.Zero(t, buf.Len())
	NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf).Warn("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
