package collector

import (
	"context"
	"errors"
	"os"

	"github.com/fanyang89/sql-insight/internal/ebpf"
)

// AdvancedCapability holds the Level 2 and Level 3 engine-side probe results.
type AdvancedCapability struct {
	StatementStatsEnabled bool `json:"statement_stats_enabled"`
	StatementStatsAccess  bool `json:"statement_stats_access"`
	SysSchemaAccess       bool `json:"sys_schema_access"`
	HighFreqStatusSample  bool `json:"high_freq_status_sample"`
}

// ProbeMySQLAdvanced checks performance_schema, the sys schema and
// SHOW ENGINE INNODB STATUS.
func ProbeMySQLAdvanced(ctx context.Context, conn MySQLConn) AdvancedCapability {
	var c AdvancedCapability
	if v := fetchVariable(ctx, conn, "performance_schema"); v != nil {
		c.StatementStatsEnabled = isMySQLTruthy(*v)
	}
	if _, err := conn.QueryMaps(ctx, "SELECT 1 AS ok FROM performance_schema.events_statements_summary_by_digest LIMIT 1"); err == nil {
		c.StatementStatsAccess = true
	}
	if _, err := conn.QueryMaps(ctx, "SELECT sys_version FROM sys.version"); err == nil {
		c.SysSchemaAccess = true
	}
	if _, err := conn.QueryMaps(ctx, "SHOW ENGINE INNODB STATUS"); err == nil {
		c.HighFreqStatusSample = true
	}
	return c
}

// ProbePostgresAdvanced checks pg_stat_statements and pg_stat_activity.
// PostgreSQL has no sys schema counterpart.
func ProbePostgresAdvanced(ctx context.Context, conn PostgresConn) AdvancedCapability {
	var c AdvancedCapability
	if v, err := conn.QueryText(ctx, "SELECT extname::text FROM pg_extension WHERE extname = 'pg_stat_statements'"); err == nil && v != nil {
		c.StatementStatsEnabled = true
	}
	if _, err := conn.QueryText(ctx, "SELECT count(*)::text FROM pg_stat_statements"); err == nil {
		c.StatementStatsAccess = true
	}
	if _, err := conn.QueryText(ctx, "SELECT count(*)::text FROM pg_stat_activity"); err == nil {
		c.HighFreqStatusSample = true
	}
	return c
}

// DeepSamplers reports which short-window OS samplers can run here.
type DeepSamplers struct {
	Tcpdump Availability `json:"tcpdump"`
	Perf    Availability `json:"perf"`
	Strace  Availability `json:"strace"`
}

// DeepSamplerProbe checks PATH, privileges and kernel support.
type DeepSamplerProbe struct {
	runner     CommandRunner
	isRoot     func() bool
	perfEvents func() bool
}

func NewDeepSamplerProbe(runner CommandRunner) *DeepSamplerProbe {
	return &DeepSamplerProbe{
		runner:     runner,
		isRoot:     func() bool { return os.Geteuid() == 0 },
		perfEvents: ebpf.HasPerfEvents,
	}
}

func (p *DeepSamplerProbe) Probe() DeepSamplers {
	root := p.isRoot()
	check := func(bin string) Availability {
		if _, err := p.runner.LookPath(bin); err != nil {
			if errors.Is(err, ErrUntrustedBinary) {
				return Availability{Reason: err.Error()}
			}
			return Availability{Reason: bin + " not found on PATH"}
		}
		if !root {
			return Availability{Reason: bin + " requires root"}
		}
		return Availability{OK: true}
	}

	out := DeepSamplers{
		Tcpdump: check("tcpdump"),
		Perf:    check("perf"),
		Strace:  check("strace"),
	}
	if out.Perf.OK && !p.perfEvents() {
		out.Perf = Availability{Reason: "kernel does not expose perf events"}
	}
	return out
}
