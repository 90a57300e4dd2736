package model

import (
	"github.com/fanyang89/sql-insight/internal/negotiate"
)

// Payload is the per-cycle body carried inside a scheduler record.
type Payload struct {
	Engine           string                `json:"engine"`
	RequestedLevel   string                `json:"requested_level"`
	SelectedLevel    string                `json:"selected_level"`
	DowngradeReasons []string              `json:"downgrade_reasons"`
	CapabilityProbe  negotiate.Probe       `json:"capability_probe"`
	Tasks            []negotiate.Task      `json:"tasks"`
	Level0           Level0Report          `json:"level0"`
	PostgresLevel0   *PostgresLevel0Report `json:"postgres_level0"`
	Level1           *Level1Report         `json:"level1"`

	CollectorOverhead *CollectorOverhead `json:"collector_overhead,omitempty"`

	// Envelope data; carried to the record by the scheduler, not serialized here.
	SourceStatus []SourceStatus `json:"-"`
	Warnings     []string       `json:"-"`
}

// CollectorOverhead is what the collection itself cost the host.
type CollectorOverhead struct {
	SelfPID         int32  `json:"self_pid"`
	CPUUserMs       int64  `json:"cpu_user_ms"`
	CPUSystemMs     int64  `json:"cpu_system_ms"`
	MemoryRSSBytes  uint64 `json:"memory_rss_bytes"`
	DiskReadBytes   int64  `json:"disk_read_bytes"`
	DiskWriteBytes  int64  `json:"disk_write_bytes"`
	ContextSwitches int64  `json:"context_switches"`
}

// SourceStatus reports whether one data source was collected.
type SourceStatus struct {
	Source string `json:"source"`
	OK     bool   `json:"ok"`
}

// Source names used in record source_status lists.
const (
	SourceOSBasicMetrics = "os.basic_metrics"

	suffixStatus      = ".status"
	suffixSettings    = ".settings"
	suffixStorage     = ".storage"
	suffixReplication = ".replication"
	suffixHotSwitch   = ".slow_log_hot_switch"
	suffixErrorLog    = ".error_log"
)

func SourceStatusName(engine string) string      { return engine + suffixStatus }
func SourceSettingsName(engine string) string    { return engine + suffixSettings }
func SourceStorageName(engine string) string     { return engine + suffixStorage }
func SourceReplicationName(engine string) string { return engine + suffixReplication }
func SourceHotSwitchName(engine string) string   { return engine + suffixHotSwitch }
func SourceErrorLogName(engine string) string    { return engine + suffixErrorLog }

// SourceStatementLogName is mysql.slow_log or postgres.statement_log.
func SourceStatementLogName(engine string) string {
	if engine == "postgres" {
		return "postgres.statement_log"
	}
	return engine + ".slow_log"
}
