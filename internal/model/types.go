// Package model defines the report payload emitted for every successful
// collection cycle. These types are serialized to JSON and form the record
// contract consumed downstream.
package model

// --- Level 0: MySQL + OS ---

// Level0Capability lists what the Level 0 collectors could reach.
type Level0Capability struct {
	MySQLConnected          bool `json:"mysql_connected"`
	MySQLStatusAccess       bool `json:"mysql_status_access"`
	MySQLVariablesAccess    bool `json:"mysql_variables_access"`
	InformationSchemaAccess bool `json:"information_schema_access"`
	ReplicationStatusAccess bool `json:"replication_status_access"`
	OSMetricsAccess         bool `json:"os_metrics_access"`
}

// Level0Report is the Level 0 snapshot. For Postgres runs the MySQL part
// stays empty and only the OS part is filled.
type Level0Report struct {
	CollectedAtUnixMs int64            `json:"collected_at_unix_ms"`
	Capability        Level0Capability `json:"capability"`
	MySQL             MySQLSnapshot    `json:"mysql"`
	OS                OSSnapshot       `json:"os"`
	Warnings          []string         `json:"warnings"`
}

type MySQLSnapshot struct {
	GlobalStatus            map[string]string `json:"global_status"`
	GlobalVariables         map[string]string `json:"global_variables"`
	TableSizes              []TableSize       `json:"table_sizes"`
	Indexes                 []IndexColumn     `json:"indexes"`
	ReplicationStatus       map[string]string `json:"replication_status"`
	ReplicationStatusSource *string           `json:"replication_status_source"`
}

type TableSize struct {
	TableSchema string `json:"table_schema"`
	TableName   string `json:"table_name"`
	Engine      string `json:"engine"`
	TableRows   uint64 `json:"table_rows"`
	DataLength  uint64 `json:"data_length"`
	IndexLength uint64 `json:"index_length"`
	TotalLength uint64 `json:"total_length"`
}

// IndexColumn is one row of information_schema.STATISTICS.
type IndexColumn struct {
	TableSchema string `json:"table_schema"`
	TableName   string `json:"table_name"`
	IndexName   string `json:"index_name"`
	NonUnique   uint64 `json:"non_unique"`
	SeqInIndex  uint64 `json:"seq_in_index"`
	ColumnName  string `json:"column_name"`
	Cardinality uint64 `json:"cardinality"`
}

// OSSnapshot holds basic host metrics. Any part may be missing.
type OSSnapshot struct {
	CPU         *CPUTimes      `json:"proc_cpu"`
	Memory      *MemoryInfo    `json:"proc_mem"`
	LoadAverage *LoadAverage   `json:"load_average"`
	Vmstat      *CommandSample `json:"vmstat"`
	Iostat      *CommandSample `json:"iostat"`
	Sar         *CommandSample `json:"sar"`
}

// HasAnyMetric reports whether at least one source produced data.
func (s OSSnapshot) HasAnyMetric() bool {
	return s.CPU != nil || s.Memory != nil || s.LoadAverage != nil ||
		s.Vmstat.usable() || s.Iostat.usable() || s.Sar.usable()
}

// CPUTimes are cumulative CPU times in seconds across all CPUs.
type CPUTimes struct {
	User    float64 `json:"user"`
	Nice    float64 `json:"nice"`
	System  float64 `json:"system"`
	Idle    float64 `json:"idle"`
	Iowait  float64 `json:"iowait"`
	Irq     float64 `json:"irq"`
	Softirq float64 `json:"softirq"`
	Steal   float64 `json:"steal"`
}

type MemoryInfo struct {
	MemTotalKB     uint64 `json:"mem_total_kb"`
	MemAvailableKB uint64 `json:"mem_available_kb"`
	SwapTotalKB    uint64 `json:"swap_total_kb"`
	SwapFreeKB     uint64 `json:"swap_free_kb"`
}

type LoadAverage struct {
	One          float64 `json:"one"`
	Five         float64 `json:"five"`
	Fifteen      float64 `json:"fifteen"`
	RunningTasks string  `json:"running_tasks"`
	LastPID      uint64  `json:"last_pid"`
}

// CommandSample is the captured output of one optional host command.
type CommandSample struct {
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	Available  bool     `json:"available"`
	StatusCode *int     `json:"status_code"`
	Output     *string  `json:"output"`
	Error      *string  `json:"error"`
}

func (c *CommandSample) usable() bool { return c != nil && c.Available }
