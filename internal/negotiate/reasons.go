package negotiate

var postgresReasons = map[string]string{
	ReasonNoStatus:          "missing pg_stat_database access",
	ReasonNoVariables:       "missing pg_settings access",
	ReasonNoSchemaMetadata:  "missing relation/index metadata access",
	ReasonNoReplication:     "missing pg_stat_replication/pg_stat_wal_receiver access",
	ReasonNoHotSwitch:       "cannot adjust log_min_duration_statement",
	ReasonNoSlowLog:         "cannot collect statement log for digest aggregation",
	ReasonNoErrorLog:        "cannot collect server log",
	ReasonPerfSchemaOff:     "pg_stat_statements extension is not installed",
	ReasonNoPerfSchemaRead:  "missing pg_stat_statements read access",
	ReasonNoHighFreqSampler: "cannot sample pg_stat_activity at high frequency",
}

// ReasonMapper returns the reason translator for an engine. MySQL reasons
// pass through unchanged.
func ReasonMapper(engine string) func(string) string {
	if engine != "postgres" {
		return func(r string) string { return r }
	}
	return func(r string) string {
		if mapped, ok := postgresReasons[r]; ok {
			return mapped
		}
		return r
	}
}
