package model

import "github.com/fanyang89/sql-insight/internal/logingest"

// --- Level 1: slow statements and error log ---

type Level1Capability struct {
	MySQLConnected            bool `json:"mysql_connected"`
	PostgresConnected         bool `json:"postgres_connected"`
	CanEnableSlowLogHotSwitch bool `json:"can_enable_slow_log_hot_switch"`
	CanReadSlowLog            bool `json:"can_read_slow_log"`
	CanReadErrorLog           bool `json:"can_read_error_log"`
}

type Level1Report struct {
	CollectedAtUnixMs int64            `json:"collected_at_unix_ms"`
	Capability        Level1Capability `json:"capability"`
	SlowLog           SlowLogSnapshot  `json:"slow_log"`
	ErrorLog          ErrorLogSnapshot `json:"error_log"`
	Warnings          []string         `json:"warnings"`
}

// SlowLogSnapshot describes one sampling window. The previous_* fields hold
// the server settings observed before the hot switch, verbatim.
type SlowLogSnapshot struct {
	EnabledForWindow      bool                      `json:"enabled_for_window"`
	WindowSecs            uint64                    `json:"window_secs"`
	LongQueryTimeSecs     float64                   `json:"long_query_time_secs"`
	SlowLogPath           *string                   `json:"slow_log_path"`
	PreviousSlowQueryLog  *string                   `json:"previous_slow_query_log"`
	PreviousLongQueryTime *string                   `json:"previous_long_query_time"`
	CollectedBytes        int                       `json:"collected_bytes"`
	ParsedEntries         int                       `json:"parsed_entries"`
	DigestCount           int                       `json:"digest_count"`
	Digests               []logingest.SlowSQLDigest `json:"digests"`
}

type ErrorLogSnapshot struct {
	ErrorLogPath *string                `json:"error_log_path"`
	SampledLines int                    `json:"sampled_lines"`
	AlertCount   int                    `json:"alert_count"`
	Alerts       []logingest.ErrorAlert `json:"alerts"`
}
