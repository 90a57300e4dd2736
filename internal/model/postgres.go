package model

// --- Level 0: PostgreSQL ---

type PostgresLevel0Capability struct {
	PostgresConnected          bool `json:"postgres_connected"`
	HasStatusAccess            bool `json:"has_status_access"`
	HasSettingsAccess          bool `json:"has_settings_access"`
	HasStorageAccess           bool `json:"has_storage_access"`
	HasReplicationStatusAccess bool `json:"has_replication_status_access"`
}

type PostgresLevel0Report struct {
	CollectedAtUnixMs int64                    `json:"collected_at_unix_ms"`
	Capability        PostgresLevel0Capability `json:"capability"`
	Postgres          PostgresSnapshot         `json:"postgres"`
	Warnings          []string                 `json:"warnings"`
}

// PostgresSnapshot mirrors MySQLSnapshot so consumers can read both the
// same way: status is pg_stat_database totals and variables are pg_settings.
type PostgresSnapshot struct {
	GlobalStatus      map[string]string   `json:"global_status"`
	GlobalVariables   map[string]string   `json:"global_variables"`
	TableSizes        []PostgresTableSize `json:"table_sizes"`
	Indexes           []PostgresIndex     `json:"indexes"`
	ReplicationStatus map[string]string   `json:"replication_status"`
}

type PostgresTableSize struct {
	TableSchema   string `json:"table_schema"`
	TableName     string `json:"table_name"`
	EstimatedRows int64  `json:"estimated_rows"`
	DataLength    int64  `json:"data_length"`
	IndexLength   int64  `json:"index_length"`
	TotalLength   int64  `json:"total_length"`
}

type PostgresIndex struct {
	TableSchema string `json:"table_schema"`
	TableName   string `json:"table_name"`
	IndexName   string `json:"index_name"`
	IndexDef    string `json:"index_def"`
}
