package collector

import "time"

// Level0Config bounds the Level 0 storage queries.
type Level0Config struct {
	TableLimit int `json:"table_limit" yaml:"table_limit"`
	IndexLimit int `json:"index_limit" yaml:"index_limit"`
}

// DefaultLevel0Config returns the 200 table / 500 index limits.
func DefaultLevel0Config() Level0Config {
	return Level0Config{TableLimit: 200, IndexLimit: 500}
}

// Level1Config drives the slow statement window and the error log sample.
type Level1Config struct {
	WindowSecs        uint64  `json:"window_secs" yaml:"window_secs"`
	LongQueryTimeSecs float64 `json:"long_query_time_secs" yaml:"long_query_time_secs"`
	HotSwitch         bool    `json:"hot_switch" yaml:"hot_switch"`
	RestoreSettings   bool    `json:"restore_settings" yaml:"restore_settings"`
	SlowLogPath       string  `json:"slow_log_path" yaml:"slow_log_path"`
	ErrorLogPath      string  `json:"error_log_path" yaml:"error_log_path"`
	MaxSlowLogBytes   int64   `json:"max_slow_log_bytes" yaml:"max_slow_log_bytes"`
	MaxErrorLogBytes  int64   `json:"max_error_log_bytes" yaml:"max_error_log_bytes"`
	MaxErrorLogLines  int     `json:"max_error_log_lines" yaml:"max_error_log_lines"`
}

// DefaultLevel1Config returns a 30s window at a 0.2s threshold, with the
// hot switch on and settings restored afterwards.
func DefaultLevel1Config() Level1Config {
	return Level1Config{
		WindowSecs:        30,
		LongQueryTimeSecs: 0.2,
		HotSwitch:         true,
		RestoreSettings:   true,
		MaxSlowLogBytes:   2_000_000,
		MaxErrorLogBytes:  2_000_000,
		MaxErrorLogLines:  2_000,
	}
}

// Window is the sampling window as a duration.
func (c Level1Config) Window() time.Duration {
	return time.Duration(c.WindowSecs) * time.Second
}
