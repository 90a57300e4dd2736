package collector

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// SwitchState is the server configuration observed before a hot switch,
// kept verbatim so it can be reported and restored.
type SwitchState struct {
	SlowQueryLog  *string
	LongQueryTime *string
}

// SlowLogSwitch turns slow statement logging on for a window and back.
type SlowLogSwitch interface {
	Snapshot(ctx context.Context) SwitchState
	// Enable applies the threshold. Each failed step is one error.
	Enable(ctx context.Context, thresholdSecs float64) []error
	// Restore reapplies prev and returns one warning per problem.
	Restore(ctx context.Context, prev SwitchState) []string
}

// StatementLogSource is the engine side of a Level 1 collection.
type StatementLogSource interface {
	SlowLogSwitch
	Engine() string
	// DiscoverSlowLogPath returns the server-reported statement log, or "".
	DiscoverSlowLogPath(ctx context.Context) string
	// DiscoverErrorLogPath returns the server-reported error log, or "".
	DiscoverErrorLogPath(ctx context.Context) string
	// SlowLogHint and ErrorLogHint name the server setting consulted.
	SlowLogHint() string
	ErrorLogHint() string
}

// --- MySQL ---

type mysqlLogSource struct {
	conn MySQLConn
}

// NewMySQLLogSource reads slow_query_log_file and log_error and toggles
// slow_query_log / long_query_time.
func NewMySQLLogSource(conn MySQLConn) StatementLogSource {
	return &mysqlLogSource{conn: conn}
}

func (s *mysqlLogSource) Engine() string       { return "mysql" }
func (s *mysqlLogSource) SlowLogHint() string  { return "MySQL slow_query_log_file" }
func (s *mysqlLogSource) ErrorLogHint() string { return "MySQL log_error" }

func (s *mysqlLogSource) DiscoverSlowLogPath(ctx context.Context) string {
	v := fetchVariable(ctx, s.conn, "slow_query_log_file")
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func (s *mysqlLogSource) DiscoverErrorLogPath(ctx context.Context) string {
	v := fetchVariable(ctx, s.conn, "log_error")
	if v == nil || *v == "stderr" {
		return ""
	}
	return strings.TrimSpace(*v)
}

func (s *mysqlLogSource) Snapshot(ctx context.Context) SwitchState {
	return SwitchState{
		SlowQueryLog:  fetchVariable(ctx, s.conn, "slow_query_log"),
		LongQueryTime: fetchVariable(ctx, s.conn, "long_query_time"),
	}
}

func (s *mysqlLogSource) Enable(ctx context.Context, thresholdSecs float64) []error {
	var errs []error
	if err := s.conn.Exec(ctx, fmt.Sprintf("SET GLOBAL long_query_time = %.6f", thresholdSecs)); err != nil {
		errs = append(errs, fmt.Errorf("failed to set long_query_time: %w", err))
	}
	if err := s.conn.Exec(ctx, "SET GLOBAL slow_query_log = 'ON'"); err != nil {
		errs = append(errs, fmt.Errorf("failed to enable slow_query_log: %w", err))
	}
	return errs
}

func (s *mysqlLogSource) Restore(ctx context.Context, prev SwitchState) []string {
	var warnings []string
	if prev.LongQueryTime != nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(*prev.LongQueryTime), 64); err != nil {
			warnings = append(warnings, "skip restoring long_query_time due to non-numeric previous value: "+*prev.LongQueryTime)
		} else if err := s.conn.Exec(ctx, fmt.Sprintf("SET GLOBAL long_query_time = %.6f", v)); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to restore long_query_time: %v", err))
		}
	}
	if prev.SlowQueryLog != nil {
		target := "OFF"
		if isMySQLTruthy(*prev.SlowQueryLog) {
			target = "ON"
		}
		if err := s.conn.Exec(ctx, fmt.Sprintf("SET GLOBAL slow_query_log = '%s'", target)); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to restore slow_query_log: %v", err))
		}
	}
	return warnings
}

// --- PostgreSQL ---

type postgresLogSource struct {
	conn PostgresConn
}

// NewPostgresLogSource reads the current server log and toggles
// log_min_duration_statement through ALTER SYSTEM.
func NewPostgresLogSource(conn PostgresConn) StatementLogSource {
	return &postgresLogSource{conn: conn}
}

func (s *postgresLogSource) Engine() string       { return "postgres" }
func (s *postgresLogSource) SlowLogHint() string  { return "PostgreSQL pg_current_logfile()" }
func (s *postgresLogSource) ErrorLogHint() string { return "PostgreSQL pg_current_logfile()" }

// Statements and errors share one server log.
func (s *postgresLogSource) DiscoverSlowLogPath(ctx context.Context) string {
	return s.currentLogfile(ctx)
}

func (s *postgresLogSource) DiscoverErrorLogPath(ctx context.Context) string {
	return s.currentLogfile(ctx)
}

func (s *postgresLogSource) currentLogfile(ctx context.Context) string {
	p, err := s.conn.QueryText(ctx, "SELECT pg_current_logfile()")
	if err != nil || p == nil || strings.TrimSpace(*p) == "" {
		return ""
	}
	path := strings.TrimSpace(*p)
	if !filepath.IsAbs(path) {
		dir, err := s.conn.QueryText(ctx, "SELECT current_setting('data_directory')")
		if err != nil || dir == nil {
			return ""
		}
		path = filepath.Join(*dir, path)
	}
	return path
}

func (s *postgresLogSource) setting(ctx context.Context, name string) *string {
	v, err := s.conn.QueryText(ctx, fmt.Sprintf("SELECT setting FROM pg_settings WHERE name = '%s'", name))
	if err != nil {
		return nil
	}
	return v
}

// Snapshot maps logging_collector onto the slow-log flag and
// log_min_duration_statement (milliseconds) onto the threshold.
func (s *postgresLogSource) Snapshot(ctx context.Context) SwitchState {
	return SwitchState{
		SlowQueryLog:  s.setting(ctx, "logging_collector"),
		LongQueryTime: s.setting(ctx, "log_min_duration_statement"),
	}
}

func (s *postgresLogSource) Enable(ctx context.Context, thresholdSecs float64) []error {
	ms := int64(math.Round(thresholdSecs * 1000))
	if err := s.conn.Exec(ctx, fmt.Sprintf("ALTER SYSTEM SET log_min_duration_statement = %d", ms)); err != nil {
		return []error{fmt.Errorf("failed to set log_min_duration_statement: %w", err)}
	}
	if err := s.conn.Exec(ctx, "SELECT pg_reload_conf()"); err != nil {
		return []error{fmt.Errorf("failed to reload configuration: %w", err)}
	}
	return nil
}

func (s *postgresLogSource) Restore(ctx context.Context, prev SwitchState) []string {
	if prev.LongQueryTime == nil {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(*prev.LongQueryTime), 10, 64)
	if err != nil {
		return []string{"skip restoring log_min_duration_statement due to non-numeric previous value: " + *prev.LongQueryTime}
	}
	var warnings []string
	if err := s.conn.Exec(ctx, fmt.Sprintf("ALTER SYSTEM SET log_min_duration_statement = %d", v)); err != nil {
		warnings = append(warnings, fmt.Sprintf("failed to restore log_min_duration_statement: %v", err))
		return warnings
	}
	if err := s.conn.Exec(ctx, "SELECT pg_reload_conf()"); err != nil {
		warnings = append(warnings, fmt.Sprintf("failed to reload configuration: %v", err))
	}
	return warnings
}
