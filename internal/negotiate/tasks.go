package negotiate

// Task declares one diagnostic action enabled at a level. The manifest is
// informational; the negotiator never executes tasks.
type Task struct {
	Level   Level  `json:"level"`
	Name    string `json:"name"`
	Source  string `json:"source"`
	Purpose string `json:"purpose"`
}

// catalog holds the static tasks introduced at each level.
var catalog = map[Level][]Task{
	Level0: {
		{Level0, "global_status", "SHOW GLOBAL STATUS", "Capture throughput/latency/error counters"},
		{Level0, "global_variables", "SHOW VARIABLES", "Capture runtime settings and limits"},
		{Level0, "schema_storage", "INFORMATION_SCHEMA.TABLES/STATISTICS", "Collect table size and index layout"},
		{Level0, "replication_status", "SHOW REPLICA/SLAVE STATUS", "Observe replication health and lag"},
		{Level0, "os_basic_metrics", "/proc + vmstat/iostat/sar", "Capture CPU, memory, IO pressure"},
	},
	Level1: {
		{Level1, "slow_log_window", "slow_query_log", "Collect slow SQL with threshold and time window"},
		{Level1, "slow_log_digest", "slow_query_log digest", "Aggregate similar SQL fingerprints"},
		{Level1, "error_log_alerts", "error log", "Detect deadlock/crash recovery/purge/replication alerts"},
	},
	Level2: {
		{Level2, "statement_summary", "performance_schema.events_statements_summary_by_digest", "Track SQL latency and digest-level hotspots"},
		{Level2, "wait_events", "performance_schema wait event tables", "Attribute CPU/IO/lock wait bottlenecks"},
		{Level2, "metadata_locks", "performance_schema.metadata_locks", "Find metadata lock contention"},
		{Level2, "transaction_lock_views", "performance_schema", "Correlate transaction and lock wait chains"},
	},
	Level3: {
		{Level3, "tcpdump_short_window", "tcpdump", "Capture packet-level anomalies in short windows"},
		{Level3, "perf_or_strace_short_window", "perf/strace", "Capture syscall and CPU hotspots in short windows"},
		{Level3, "innodb_status_hf", "SHOW ENGINE INNODB STATUS", "High-frequency sampling for expert diagnostics"},
	},
}

// sysSchemaTask is added at Level 2 only when the sys schema is readable.
var sysSchemaTask = Task{Level2, "sys_schema_helpers", "sys schema", "Use pre-joined lock and statement diagnostic views"}

// TasksForLevel returns the union of the manifests for levels 0..level,
// plus probe-conditional extras.
func TasksForLevel(level Level, probe Probe) []Task {
	var tasks []Task
	for _, l := range Levels {
		if l.Rank() > level.Rank() {
			break
		}
		tasks = append(tasks, catalog[l]...)
		if l == Level2 && probe.HasSysSchemaAccess {
			tasks = append(tasks, sysSchemaTask)
		}
	}
	return tasks
}

// TaskNames returns the task names in manifest order.
func TaskNames(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}
