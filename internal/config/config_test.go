package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanyang89/sql-insight/internal/negotiate"
	"github.com/fanyang89/sql-insight/internal/scheduler"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, EngineMySQL, cfg.Engine)
	assert.Equal(t, 200, cfg.Level0.TableLimit)
	assert.Equal(t, 500, cfg.Level0.IndexLimit)
	assert.Equal(t, uint64(30), cfg.Level1.WindowSecs)
	assert.InDelta(t, 0.2, cfg.Level1.LongQueryTimeSecs, 1e-9)
	assert.True(t, cfg.Level1.HotSwitch)
	assert.True(t, cfg.Level1.RestoreSettings)
	assert.Equal(t, int64(2_000_000), cfg.Level1.MaxSlowLogBytes)
	assert.Equal(t, 2_000, cfg.Level1.MaxErrorLogLines)
	assert.Equal(t, scheduler.ModeOnce, cfg.Schedule.Mode)
	assert.Nil(t, cfg.Schedule.MaxCycles)

	pol, err := cfg.NegotiationPolicy()
	require.NoError(t, err)
	assert.Equal(t, negotiate.DefaultPolicy(), pol)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sqlinsight.yaml")
	content := `
engine: postgres
postgres_url: postgres://insight@db:5432/app
policy:
  preferred_level: "Level 1"
  max_accepted_level: "3"
  expert_mode: true
level1:
  window_secs: 10
  slow_log_path: /var/log/postgresql/postgresql.log
schedule:
  mode: daemon
  interval_secs: 300
  max_cycles: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, EnginePostgres, cfg.Engine)
	assert.Equal(t, "postgres://insight@db:5432/app", cfg.PostgresURL)
	assert.Equal(t, uint64(10), cfg.Level1.WindowSecs)
	assert.Equal(t, "/var/log/postgresql/postgresql.log", cfg.Level1.SlowLogPath)
	// untouched keys keep defaults
	assert.True(t, cfg.Level1.HotSwitch)
	assert.Equal(t, 500, cfg.Level0.IndexLimit)
	assert.Equal(t, scheduler.ModeDaemon, cfg.Schedule.Mode)
	assert.Equal(t, uint64(120), cfg.Schedule.TimeoutSecs)
	require.NotNil(t, cfg.Schedule.MaxCycles)
	assert.Equal(t, uint32(4), *cfg.Schedule.MaxCycles)

	pol, err := cfg.NegotiationPolicy()
	require.NoError(t, err)
	assert.Equal(t, negotiate.Level1, pol.PreferredLevel)
	assert.Equal(t, negotiate.Level3, pol.MaxAcceptedLevel)
	assert.True(t, pol.ExpertModeEnabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DB_ENGINE":                   "postgres",
		"MYSQL_URL":                   "mysql://root:pw@127.0.0.1:3306/app",
		"LEVEL0_TABLE_LIMIT":          "50",
		"LEVEL1_LONG_QUERY_TIME_SECS": "0.5",
		"LEVEL1_MAX_ERROR_LOG_BYTES":  "4096",
		"LEVEL1_ERROR_LOG_PATH":       " ",
		"SQLINSIGHT_NATS_URL":         "nats://127.0.0.1:4222",
	}))
	require.NoError(t, err)

	assert.Equal(t, EnginePostgres, cfg.Engine)
	assert.Equal(t, "mysql://root:pw@127.0.0.1:3306/app", cfg.MySQLURL)
	assert.Equal(t, 50, cfg.Level0.TableLimit)
	assert.InDelta(t, 0.5, cfg.Level1.LongQueryTimeSecs, 1e-9)
	assert.Equal(t, int64(4096), cfg.Level1.MaxErrorLogBytes)
	assert.Empty(t, cfg.Level1.ErrorLogPath, "blank values are ignored")
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{"LEVEL0_INDEX_LIMIT": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEVEL0_INDEX_LIMIT")
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.Engine = " MySQL "
	cfg.Level0.TableLimit = 0
	cfg.Level1.WindowSecs = 0
	cfg.Level1.LongQueryTimeSecs = -1
	cfg.Level1.MaxErrorLogLines = 0

	warnings := cfg.Normalize()

	assert.Len(t, warnings, 4)
	assert.Equal(t, "mysql", cfg.Engine)
	assert.Equal(t, 200, cfg.Level0.TableLimit)
	assert.Equal(t, uint64(30), cfg.Level1.WindowSecs)
	assert.InDelta(t, 0.2, cfg.Level1.LongQueryTimeSecs, 1e-9)
	assert.Equal(t, 2_000, cfg.Level1.MaxErrorLogLines)
}

func TestNormalize_ValidConfigUnchanged(t *testing.T) {
	cfg := Default()
	before := cfg
	assert.Empty(t, cfg.Normalize())
	assert.Equal(t, before, cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"engine", func(c *Config) { c.Engine = "oracle" }},
		{"level", func(c *Config) { c.Policy.PreferredLevel = "Level 9" }},
		{"format", func(c *Config) { c.Output.Format = "yaml" }},
		{"schedule", func(c *Config) { c.Schedule.TimeoutSecs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
