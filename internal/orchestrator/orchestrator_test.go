package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanyang89/sql-insight/internal/collector"
	"github.com/fanyang89/sql-insight/internal/model"
	"github.com/fanyang89/sql-insight/internal/negotiate"
	"github.com/fanyang89/sql-insight/internal/observer"
)

type fakeOS struct {
	warnings []string
	empty    bool
}

func (f *fakeOS) Collect(ctx context.Context) collector.OSResult {
	var snap model.OSSnapshot
	if !f.empty {
		snap.LoadAverage = &model.LoadAverage{One: 0.5}
	}
	return collector.OSResult{Snapshot: snap, Warnings: f.warnings}
}

type fakeLevel1 struct {
	report  model.Level1Report
	engines []string
}

func (f *fakeLevel1) Collect(ctx context.Context, src collector.StatementLogSource) model.Level1Report {
	f.engines = append(f.engines, src.Engine())
	return f.report
}

type fakeDeep struct {
	out   collector.DeepSamplers
	calls int
}

func (f *fakeDeep) Probe() collector.DeepSamplers {
	f.calls++
	return f.out
}

type fakeTracker struct {
	starts, stops int
}

func (f *fakeTracker) Start(ctx context.Context) { f.starts++ }

func (f *fakeTracker) Stop(ctx context.Context) observer.OverheadSummary {
	f.stops++
	return observer.OverheadSummary{SelfPID: 4242, CPUUserMs: 15, MemoryRSSBytes: 8 << 20, ContextSwitches: 3}
}

// mysqlConn answers every query successfully unless its prefix is denied.
type mysqlConn struct {
	denied []string
	closed bool
}

func (c *mysqlConn) QueryMaps(ctx context.Context, query string) ([]map[string]string, error) {
	for _, p := range c.denied {
		if strings.HasPrefix(query, p) {
			return nil, errors.New("access denied")
		}
	}
	switch {
	case strings.HasPrefix(query, "SHOW VARIABLES LIKE 'performance_schema'"):
		return []map[string]string{{"Variable_name": "performance_schema", "Value": "ON"}}, nil
	case query == "SHOW GLOBAL STATUS":
		return []map[string]string{{"Variable_name": "Uptime", "Value": "10"}}, nil
	}
	return nil, nil
}

func (c *mysqlConn) Exec(ctx context.Context, stmt string) error { return nil }
func (c *mysqlConn) Close() error                                { c.closed = true; return nil }

type pgConn struct {
	settingsErr error
	closed      bool
}

func (c *pgConn) Pairs(ctx context.Context, query string) (map[string]string, error) {
	if strings.HasPrefix(query, "SELECT name, setting") && c.settingsErr != nil {
		return nil, c.settingsErr
	}
	return map[string]string{"k": "v"}, nil
}

func (c *pgConn) TableSizes(ctx context.Context, limit int) ([]model.PostgresTableSize, error) {
	return nil, nil
}

func (c *pgConn) Indexes(ctx context.Context, limit int) ([]model.PostgresIndex, error) {
	return nil, nil
}

func (c *pgConn) QueryText(ctx context.Context, query string) (*string, error) {
	return nil, nil
}

func (c *pgConn) Exec(ctx context.Context, stmt string) error { return nil }
func (c *pgConn) Close()                                      { c.closed = true }

func level1OK() model.Level1Report {
	return model.Level1Report{
		Capability: model.Level1Capability{
			MySQLConnected:            true,
			CanEnableSlowLogHotSwitch: true,
			CanReadSlowLog:            true,
			CanReadErrorLog:           true,
		},
		Warnings: []string{"level1 note"},
	}
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *fakeLevel1, *fakeDeep) {
	t.Helper()
	if cfg.Level0 == (collector.Level0Config{}) {
		cfg.Level0 = collector.DefaultLevel0Config()
	}
	o, err := New(cfg)
	require.NoError(t, err)

	l1 := &fakeLevel1{report: level1OK()}
	deep := &fakeDeep{}
	o.os = &fakeOS{warnings: []string{"iostat failed: boom"}}
	o.level1 = l1
	o.deep = deep
	o.overhead = &fakeTracker{}
	o.openMySQL = func(ctx context.Context, url string) (collector.MySQLConn, error) {
		return &mysqlConn{}, nil
	}
	o.openPostgres = func(ctx context.Context, url string) (collector.PostgresConn, error) {
		return &pgConn{}, nil
	}
	return o, l1, deep
}

func TestCollectOnce_MySQLLevel2(t *testing.T) {
	o, l1, deep := newTestOrchestrator(t, Config{
		Engine:        "mysql",
		MySQLURL:      "mysql://root@localhost:3306",
		Policy:        negotiate.DefaultPolicy(),
		SetupWarnings: []string{"setup note"},
	})

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mysql", p.Engine)
	assert.Equal(t, "Level 2", p.RequestedLevel)
	assert.Equal(t, "Level 2", p.SelectedLevel)
	assert.Empty(t, p.DowngradeReasons)
	assert.NotNil(t, p.DowngradeReasons)
	assert.Nil(t, p.PostgresLevel0)
	require.NotNil(t, p.Level1)
	assert.Equal(t, []string{"mysql"}, l1.engines)
	assert.Zero(t, deep.calls, "deep samplers are only probed for Level 3")

	assert.True(t, p.Level0.Capability.MySQLConnected)
	assert.True(t, p.Level0.Capability.OSMetricsAccess)
	assert.Equal(t, "10", p.Level0.MySQL.GlobalStatus["Uptime"])
	assert.True(t, p.CapabilityProbe.PerformanceSchemaEnabled)
	assert.True(t, p.CapabilityProbe.HasSysSchemaAccess)

	names := negotiate.TaskNames(p.Tasks)
	assert.Contains(t, names, "statement_summary")
	assert.Contains(t, names, "sys_schema_helpers")
	assert.NotContains(t, names, "tcpdump_short_window")

	assert.Equal(t, []string{"setup note", "iostat failed: boom", "level1 note"}, p.Warnings)

	want := []model.SourceStatus{
		{Source: "os.basic_metrics", OK: true},
		{Source: "mysql.status", OK: true},
		{Source: "mysql.settings", OK: true},
		{Source: "mysql.storage", OK: true},
		{Source: "mysql.replication", OK: true},
		{Source: "mysql.slow_log_hot_switch", OK: true},
		{Source: "mysql.slow_log", OK: true},
		{Source: "mysql.error_log", OK: true},
	}
	assert.Equal(t, want, p.SourceStatus)
}

func TestCollectOnce_RecordsOverhead(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{Engine: "mysql", Policy: negotiate.DefaultPolicy()})
	tr := &fakeTracker{}
	o.overhead = tr

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, tr.starts)
	assert.Equal(t, 1, tr.stops)
	require.NotNil(t, p.CollectorOverhead)
	assert.Equal(t, int32(4242), p.CollectorOverhead.SelfPID)
	assert.Equal(t, int64(15), p.CollectorOverhead.CPUUserMs)
	assert.Equal(t, uint64(8<<20), p.CollectorOverhead.MemoryRSSBytes)
	assert.Equal(t, int64(3), p.CollectorOverhead.ContextSwitches)

	o.overhead = nil
	p, err = o.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p.CollectorOverhead)
}

func TestCollectOnce_MySQLMissingURL(t *testing.T) {
	o, l1, _ := newTestOrchestrator(t, Config{
		Engine: "mysql",
		Policy: negotiate.Policy{PreferredLevel: negotiate.Level1, MaxAcceptedLevel: negotiate.Level1},
	})

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Level 0", p.SelectedLevel)
	assert.False(t, p.Level0.Capability.MySQLConnected)
	assert.Empty(t, l1.engines, "Level 1 collector must not run without a connection")
	require.NotNil(t, p.Level1)
	assert.Equal(t, []string{"MYSQL_URL not provided; skip Level 1 collection"}, p.Level1.Warnings)
	assert.Equal(t, "MYSQL_URL not provided; skip MySQL Level 0 collection", p.Level0.Warnings[0])

	require.Len(t, p.DowngradeReasons, 2)
	assert.True(t, strings.HasPrefix(p.DowngradeReasons[0], "[Level 1] missing SHOW GLOBAL STATUS access"))
	assert.True(t, strings.HasPrefix(p.DowngradeReasons[1], "[Level 0] "))
}

func TestCollectOnce_Level0Only(t *testing.T) {
	o, l1, _ := newTestOrchestrator(t, Config{
		Engine:   "mysql",
		MySQLURL: "mysql://root@localhost:3306",
		Policy:   negotiate.Policy{PreferredLevel: negotiate.Level0, MaxAcceptedLevel: negotiate.Level2},
	})

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Nil(t, p.Level1)
	assert.Empty(t, l1.engines)
	assert.Len(t, p.SourceStatus, 5)
	assert.False(t, p.CapabilityProbe.PerformanceSchemaEnabled, "Level 2 probes run only when targeted")
}

func TestCollectOnce_MySQLPartialAccess(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{
		Engine:   "mysql",
		MySQLURL: "mysql://root@localhost:3306",
		Policy:   negotiate.DefaultPolicy(),
	})
	o.openMySQL = func(ctx context.Context, url string) (collector.MySQLConn, error) {
		return &mysqlConn{denied: []string{"SHOW REPLICA STATUS", "SHOW SLAVE STATUS", "SELECT sys_version"}}, nil
	}

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Level 0", p.SelectedLevel)
	assert.False(t, p.CapabilityProbe.HasReplicationStatusAccess)
	assert.NotContains(t, negotiate.TaskNames(p.Tasks), "slow_log_window")
	assert.Contains(t, p.SourceStatus, model.SourceStatus{Source: "mysql.replication", OK: false})
	require.NotEmpty(t, p.DowngradeReasons)
	assert.Contains(t, p.DowngradeReasons[len(p.DowngradeReasons)-1], "missing replication status access")
}

func TestCollectOnce_PostgresMapsReasons(t *testing.T) {
	o, l1, _ := newTestOrchestrator(t, Config{
		Engine:      "postgres",
		PostgresURL: "postgres://u@localhost/db",
		Policy:      negotiate.Policy{PreferredLevel: negotiate.Level1, MaxAcceptedLevel: negotiate.Level1},
	})
	var conn *pgConn
	o.openPostgres = func(ctx context.Context, url string) (collector.PostgresConn, error) {
		conn = &pgConn{settingsErr: errors.New("permission denied")}
		return conn, nil
	}

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	require.NotNil(t, p.PostgresLevel0)
	assert.True(t, p.PostgresLevel0.Capability.PostgresConnected)
	assert.False(t, p.CapabilityProbe.HasVariablesAccess)
	assert.Equal(t, []string{"postgres"}, l1.engines)
	assert.True(t, conn.closed, "connection is closed after the run")

	for _, w := range p.Level0.Warnings {
		assert.NotContains(t, w, "MYSQL_URL", "missing MySQL warning is suppressed for postgres")
	}
	assert.Contains(t, p.Warnings, "failed querying pg_settings: permission denied")

	require.NotEmpty(t, p.DowngradeReasons)
	assert.Contains(t, p.DowngradeReasons[0], "missing pg_settings access")
	assert.Contains(t, p.SourceStatus, model.SourceStatus{Source: "postgres.settings", OK: false})
	assert.Contains(t, p.SourceStatus, model.SourceStatus{Source: "postgres.statement_log", OK: true})
}

func TestCollectOnce_PostgresMissingURL(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{
		Engine: "postgres",
		Policy: negotiate.Policy{PreferredLevel: negotiate.Level0, MaxAcceptedLevel: negotiate.Level0},
	})

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	require.NotNil(t, p.PostgresLevel0)
	assert.False(t, p.PostgresLevel0.Capability.PostgresConnected)
	assert.Equal(t, []string{"POSTGRES_URL not provided; skip PostgreSQL Level 0 collection"}, p.PostgresLevel0.Warnings)
}

func TestCollectOnce_Level3ProbesDeepSamplers(t *testing.T) {
	o, _, deep := newTestOrchestrator(t, Config{
		Engine:   "mysql",
		MySQLURL: "mysql://root@localhost:3306",
		Policy:   negotiate.Policy{PreferredLevel: negotiate.Level3, MaxAcceptedLevel: negotiate.Level3, ExpertModeEnabled: true},
	})
	deep.out = collector.DeepSamplers{Perf: collector.Availability{OK: true}}

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, deep.calls)
	assert.True(t, p.CapabilityProbe.CanCapturePerfShortWindow)
	assert.Equal(t, "Level 3", p.SelectedLevel)
	assert.Contains(t, negotiate.TaskNames(p.Tasks), "innodb_status_hf")
}

func TestCollectOnce_BreakerSkipsDial(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{
		Engine:          "mysql",
		MySQLURL:        "mysql://root@localhost:3306",
		Policy:          negotiate.Policy{PreferredLevel: negotiate.Level0, MaxAcceptedLevel: negotiate.Level0},
		BreakerCooldown: time.Hour,
	})
	o.mysqlCB = collector.NewBreaker("mysql", time.Hour)
	dials := 0
	o.openMySQL = func(ctx context.Context, url string) (collector.MySQLConn, error) {
		dials++
		return nil, errors.New("failed to connect MySQL: connection refused")
	}

	for i := 0; i < 4; i++ {
		_, err := o.CollectOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, dials)

	p, err := o.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, p.Level0.Warnings[0], "circuit breaker open")
}

func TestCollectOnce_Cancelled(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{
		Engine: "mysql",
		Policy: negotiate.DefaultPolicy(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.CollectOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnnotate(t *testing.T) {
	a := Annotate(model.Payload{
		SelectedLevel: "Level 1",
		SourceStatus:  []model.SourceStatus{{Source: "os.basic_metrics", OK: true}},
	})
	assert.Equal(t, "Level 1", a.SelectedLevel)
	require.Len(t, a.SourceStatus, 1)
	assert.Equal(t, "os.basic_metrics", a.SourceStatus[0].Source)
	assert.NotNil(t, a.Warnings)
}

func TestNew_UnknownEngine(t *testing.T) {
	_, err := New(Config{Engine: "oracle"})
	assert.Error(t, err)
}
