// Package config assembles the collector configuration from defaults, an
// optional YAML file, the environment and command line flags, in that order.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/fanyang89/sql-insight/internal/collector"
	"github.com/fanyang89/sql-insight/internal/logger"
	"github.com/fanyang89/sql-insight/internal/negotiate"
	"github.com/fanyang89/sql-insight/internal/scheduler"
)

const (
	EngineMySQL    = "mysql"
	EnginePostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Engine      string                 `yaml:"engine"`
	MySQLURL    string                 `yaml:"mysql_url"`
	PostgresURL string                 `yaml:"postgres_url"`
	Policy      PolicyConfig           `yaml:"policy"`
	Level0      collector.Level0Config `yaml:"level0"`
	Level1      collector.Level1Config `yaml:"level1"`
	Schedule    scheduler.Config       `yaml:"schedule"`
	Output      OutputConfig           `yaml:"output"`
	NATS        NATSConfig             `yaml:"nats"`
	Log         logger.Config          `yaml:"log"`
}

// PolicyConfig keeps levels as text so files can say "Level 2" or "2".
type PolicyConfig struct {
	PreferredLevel   string `yaml:"preferred_level"`
	MaxAcceptedLevel string `yaml:"max_accepted_level"`
	ExpertMode       bool   `yaml:"expert_mode"`
}

type OutputConfig struct {
	// Format is "json" or "pretty-json".
	Format string `yaml:"format"`
	// Path is a file, or "-" for stdout.
	Path string `yaml:"path"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	pol := negotiate.DefaultPolicy()
	return Config{
		Engine: EngineMySQL,
		Policy: PolicyConfig{
			PreferredLevel:   pol.PreferredLevel.String(),
			MaxAcceptedLevel: pol.MaxAcceptedLevel.String(),
			ExpertMode:       pol.ExpertModeEnabled,
		},
		Level0:   collector.DefaultLevel0Config(),
		Level1:   collector.DefaultLevel1Config(),
		Schedule: scheduler.DefaultConfig(),
		Output:   OutputConfig{Format: "pretty-json", Path: "-"},
		NATS:     NATSConfig{Subject: "sqlinsight.records"},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// NegotiationPolicy converts the textual policy to a negotiate.Policy.
func (c Config) NegotiationPolicy() (negotiate.Policy, error) {
	preferred, err := negotiate.ParseLevel(c.Policy.PreferredLevel)
	if err != nil {
		return negotiate.Policy{}, fmt.Errorf("policy.preferred_level: %w", err)
	}
	maxLevel, err := negotiate.ParseLevel(c.Policy.MaxAcceptedLevel)
	if err != nil {
		return negotiate.Policy{}, fmt.Errorf("policy.max_accepted_level: %w", err)
	}
	return negotiate.Policy{
		PreferredLevel:    preferred,
		MaxAcceptedLevel:  maxLevel,
		ExpertModeEnabled: c.Policy.ExpertMode,
	}, nil
}

// Validate checks names and the schedule.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineMySQL, EnginePostgres:
	default:
		return fmt.Errorf("unknown engine %q (want mysql or postgres)", c.Engine)
	}
	if _, err := c.NegotiationPolicy(); err != nil {
		return err
	}
	switch c.Output.Format {
	case "json", "pretty-json":
	default:
		return fmt.Errorf("unknown output format %q (want json or pretty-json)", c.Output.Format)
	}
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

// Normalize replaces invalid limits with their defaults and returns one
// warning per replacement.
func (c *Config) Normalize() []string {
	var warnings []string
	d0 := collector.DefaultLevel0Config()
	d1 := collector.DefaultLevel1Config()

	fixInt := func(name string, v *int, fallback int) {
		if *v <= 0 {
			warnings = append(warnings, fmt.Sprintf("invalid zero limit for %s, fallback %d applied", name, fallback))
			*v = fallback
		}
	}
	fixInt64 := func(name string, v *int64, fallback int64) {
		if *v <= 0 {
			warnings = append(warnings, fmt.Sprintf("invalid zero limit for %s, fallback %d applied", name, fallback))
			*v = fallback
		}
	}

	fixInt("table_limit", &c.Level0.TableLimit, d0.TableLimit)
	fixInt("index_limit", &c.Level0.IndexLimit, d0.IndexLimit)
	if c.Level1.WindowSecs == 0 {
		warnings = append(warnings, fmt.Sprintf("invalid zero limit for slow_log_window_secs, fallback %d applied", d1.WindowSecs))
		c.Level1.WindowSecs = d1.WindowSecs
	}
	if c.Level1.LongQueryTimeSecs <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid non-positive value for long_query_time_secs, fallback %g applied", d1.LongQueryTimeSecs))
		c.Level1.LongQueryTimeSecs = d1.LongQueryTimeSecs
	}
	fixInt64("max_slow_log_bytes", &c.Level1.MaxSlowLogBytes, d1.MaxSlowLogBytes)
	fixInt64("max_error_log_bytes", &c.Level1.MaxErrorLogBytes, d1.MaxErrorLogBytes)
	fixInt("max_error_log_lines", &c.Level1.MaxErrorLogLines, d1.MaxErrorLogLines)

	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	return warnings
}

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name  string
	apply func(c *Config, raw string) error
}

var envBindings = []envBinding{
	{"DB_ENGINE", func(c *Config, v string) error { c.Engine = v; return nil }},
	{"MYSQL_URL", func(c *Config, v string) error { c.MySQLURL = v; return nil }},
	{"POSTGRES_URL", func(c *Config, v string) error { c.PostgresURL = v; return nil }},
	{"LEVEL0_TABLE_LIMIT", func(c *Config, v string) (err error) {
		c.Level0.TableLimit, err = cast.ToIntE(v)
		return
	}},
	{"LEVEL0_INDEX_LIMIT", func(c *Config, v string) (err error) {
		c.Level0.IndexLimit, err = cast.ToIntE(v)
		return
	}},
	{"LEVEL1_SLOW_LOG_WINDOW_SECS", func(c *Config, v string) (err error) {
		c.Level1.WindowSecs, err = cast.ToUint64E(v)
		return
	}},
	{"LEVEL1_LONG_QUERY_TIME_SECS", func(c *Config, v string) (err error) {
		c.Level1.LongQueryTimeSecs, err = cast.ToFloat64E(v)
		return
	}},
	{"LEVEL1_SLOW_LOG_PATH", func(c *Config, v string) error { c.Level1.SlowLogPath = v; return nil }},
	{"LEVEL1_ERROR_LOG_PATH", func(c *Config, v string) error { c.Level1.ErrorLogPath = v; return nil }},
	{"LEVEL1_MAX_SLOW_LOG_BYTES", func(c *Config, v string) (err error) {
		c.Level1.MaxSlowLogBytes, err = cast.ToInt64E(v)
		return
	}},
	{"LEVEL1_MAX_ERROR_LOG_BYTES", func(c *Config, v string) (err error) {
		c.Level1.MaxErrorLogBytes, err = cast.ToInt64E(v)
		return
	}},
	{"LEVEL1_MAX_ERROR_LOG_LINES", func(c *Config, v string) (err error) {
		c.Level1.MaxErrorLogLines, err = cast.ToIntE(v)
		return
	}},
	{"SQLINSIGHT_NATS_URL", func(c *Config, v string) error { c.NATS.URL = v; return nil }},
	{"SQLINSIGHT_NATS_SUBJECT", func(c *Config, v string) error { c.NATS.Subject = v; return nil }},
}

// ApplyEnv overlays the environment, as read by lookup, onto c. Empty
// values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		raw, ok := lookup(b.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return nil
}
