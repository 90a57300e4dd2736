// Package orchestrator performs one full collection: it runs the collectors
// for the engine, builds the capability probe, negotiates the level and
// assembles the payload carried by the scheduler record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fanyang89/sql-insight/internal/collector"
	"github.com/fanyang89/sql-insight/internal/config"
	"github.com/fanyang89/sql-insight/internal/logger"
	"github.com/fanyang89/sql-insight/internal/logingest"
	"github.com/fanyang89/sql-insight/internal/model"
	"github.com/fanyang89/sql-insight/internal/negotiate"
	"github.com/fanyang89/sql-insight/internal/observer"
	"github.com/fanyang89/sql-insight/internal/scheduler"
)

// DefaultBreakerCooldown is how long an open connect breaker waits before
// letting one probe connect through.
const DefaultBreakerCooldown = 30 * time.Second

// Config is everything one collection needs.
type Config struct {
	Engine      string
	MySQLURL    string
	PostgresURL string
	Policy      negotiate.Policy
	Level0      collector.Level0Config
	Level1      collector.Level1Config

	// SetupWarnings are prepended to every payload's warnings, e.g. limit
	// normalization notices.
	SetupWarnings   []string
	BreakerCooldown time.Duration
}

// FromConfig converts the runtime configuration. It expects c to be
// normalized and validated.
func FromConfig(c config.Config, setupWarnings []string) (Config, error) {
	policy, err := c.NegotiationPolicy()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Engine:          c.Engine,
		MySQLURL:        c.MySQLURL,
		PostgresURL:     c.PostgresURL,
		Policy:          policy,
		Level0:          c.Level0,
		Level1:          c.Level1,
		SetupWarnings:   setupWarnings,
		BreakerCooldown: DefaultBreakerCooldown,
	}, nil
}

type osCollector interface {
	Collect(ctx context.Context) collector.OSResult
}

type level1Collector interface {
	Collect(ctx context.Context, src collector.StatementLogSource) model.Level1Report
}

type deepSamplerProbe interface {
	Probe() collector.DeepSamplers
}

type overheadTracker interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) observer.OverheadSummary
}

// Orchestrator coordinates the collectors of one engine. Connect breakers
// live as long as the Orchestrator, so they span daemon cycles.
type Orchestrator struct {
	cfg    Config
	log    zerolog.Logger
	os     osCollector
	level1 level1Collector
	deep   deepSamplerProbe

	// overhead is nil when process stats are unavailable.
	overhead overheadTracker

	openMySQL    func(ctx context.Context, url string) (collector.MySQLConn, error)
	openPostgres func(ctx context.Context, url string) (collector.PostgresConn, error)
	mysqlCB      *collector.Breaker
	postgresCB   *collector.Breaker
}

// New builds an Orchestrator reading host metrics from /proc.
func New(cfg Config) (*Orchestrator, error) {
	format, err := logingest.FormatForEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	runner := collector.NewExecCommandRunner()
	o := &Orchestrator{
		cfg:          cfg,
		log:          logger.WithComponent("orchestrator"),
		os:           collector.NewOSCollectorWithRunner("/proc", runner),
		level1:       collector.NewLevel1Collector(cfg.Level1, format),
		deep:         collector.NewDeepSamplerProbe(runner),
		openMySQL:    collector.OpenMySQL,
		openPostgres: collector.OpenPostgres,
		mysqlCB:      collector.NewBreaker("mysql", cooldown),
		postgresCB:   collector.NewBreaker("postgres", cooldown),
	}
	if tr, err := observer.NewSelfTracker(); err != nil {
		o.log.Warn().Err(err).Msg("collector overhead tracking disabled")
	} else {
		o.overhead = tr
	}
	return o, nil
}

// Operation adapts CollectOnce to the scheduler.
func (o *Orchestrator) Operation() scheduler.Operation[model.Payload] {
	return o.CollectOnce
}

// CollectOnce runs one full collection. Collector problems become warnings;
// the only error is ctx ending before the payload was assembled.
func (o *Orchestrator) CollectOnce(ctx context.Context) (model.Payload, error) {
	target := o.cfg.Policy.Target()
	o.log.Info().
		Str("engine", o.cfg.Engine).
		Str("target_level", target.String()).
		Bool("mysql_url_set", o.cfg.MySQLURL != "").
		Bool("postgres_url_set", o.cfg.PostgresURL != "").
		Msg("starting collection")

	if o.overhead != nil {
		o.overhead.Start(ctx)
	}

	var (
		c   collected
		err error
	)
	switch o.cfg.Engine {
	case config.EnginePostgres:
		c, err = o.collectPostgres(ctx, target)
	default:
		c, err = o.collectMySQL(ctx, target)
	}
	if err != nil {
		return model.Payload{}, err
	}

	probe := c.probe(o.cfg.Engine)
	result := negotiate.Negotiate(o.cfg.Policy, probe)
	o.logNegotiation(result)

	payload := model.Payload{
		Engine:           o.cfg.Engine,
		RequestedLevel:   target.String(),
		SelectedLevel:    result.SelectedLevel.String(),
		DowngradeReasons: result.DowngradeReasons(negotiate.ReasonMapper(o.cfg.Engine)),
		CapabilityProbe:  probe,
		Tasks:            result.Tasks,
		Level0:           c.level0,
		PostgresLevel0:   c.postgres,
		Level1:           c.level1,
	}
	if payload.DowngradeReasons == nil {
		payload.DowngradeReasons = []string{}
	}
	payload.SourceStatus = c.sourceStatus(o.cfg.Engine)
	payload.Warnings = c.warnings(o.cfg.SetupWarnings)
	if o.overhead != nil {
		oh := o.overhead.Stop(ctx)
		payload.CollectorOverhead = &model.CollectorOverhead{
			SelfPID:         oh.SelfPID,
			CPUUserMs:       oh.CPUUserMs,
			CPUSystemMs:     oh.CPUSystemMs,
			MemoryRSSBytes:  oh.MemoryRSSBytes,
			DiskReadBytes:   oh.DiskReadBytes,
			DiskWriteBytes:  oh.DiskWriteBytes,
			ContextSwitches: oh.ContextSwitches,
		}
	}
	return payload, nil
}

// collected holds the raw collector outputs of one run.
type collected struct {
	level0   model.Level0Report
	postgres *model.PostgresLevel0Report
	level1   *model.Level1Report
	advanced collector.AdvancedCapability
	deep     collector.DeepSamplers
}

func (o *Orchestrator) collectMySQL(ctx context.Context, target negotiate.Level) (collected, error) {
	var c collected
	c.level0 = model.Level0Report{CollectedAtUnixMs: time.Now().UnixMilli()}

	var (
		conn    collector.MySQLConn
		connErr error
	)
	if o.cfg.MySQLURL == "" {
		connErr = errors.New("MYSQL_URL not provided; skip MySQL Level 0 collection")
	} else {
		conn, connErr = collector.Dial(ctx, o.mysqlCB, func(ctx context.Context) (collector.MySQLConn, error) {
			return o.openMySQL(ctx, o.cfg.MySQLURL)
		})
	}
	if conn != nil {
		defer conn.Close()
	}

	var (
		dbRes collector.MySQLLevel0Result
		osRes collector.OSResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		osRes = o.os.Collect(gctx)
		return nil
	})
	if conn != nil {
		g.Go(func() error {
			dbRes = collector.CollectMySQLLevel0(gctx, conn, o.cfg.Level0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c, err
	}

	var dbWarnings []string
	if conn != nil {
		c.level0.Capability.MySQLConnected = true
		c.level0.Capability.MySQLStatusAccess = dbRes.StatusOK
		c.level0.Capability.MySQLVariablesAccess = dbRes.VariablesOK
		c.level0.Capability.InformationSchemaAccess = dbRes.InfoSchemaOK
		c.level0.Capability.ReplicationStatusAccess = dbRes.ReplicationOK
		c.level0.MySQL = dbRes.Snapshot
		dbWarnings = dbRes.Warnings
	} else {
		o.log.Warn().Str("scope", "level0").Str("warning", connErr.Error()).Msg("collector warning")
		dbWarnings = []string{connErr.Error()}
	}
	o.fillLevel0(&c.level0, osRes, dbWarnings)

	if target.Rank() >= negotiate.Level1.Rank() {
		if conn == nil {
			msg := "MYSQL_URL not provided; skip Level 1 collection"
			if o.cfg.MySQLURL != "" {
				msg = connErr.Error()
			}
			r := collector.SkippedLevel1(msg)
			c.level1 = &r
		} else {
			r := o.level1.Collect(ctx, collector.NewMySQLLogSource(conn))
			c.level1 = &r
		}
	}

	if conn != nil && target.Rank() >= negotiate.Level2.Rank() {
		c.advanced = collector.ProbeMySQLAdvanced(ctx, conn)
	}
	if target.Rank() >= negotiate.Level3.Rank() {
		c.deep = o.deep.Probe()
	}

	if err := ctx.Err(); err != nil {
		return c, fmt.Errorf("collection interrupted: %w", err)
	}
	return c, nil
}

func (o *Orchestrator) collectPostgres(ctx context.Context, target negotiate.Level) (collected, error) {
	var c collected
	c.level0 = model.Level0Report{CollectedAtUnixMs: time.Now().UnixMilli()}

	var (
		conn    collector.PostgresConn
		connErr error
	)
	if o.cfg.PostgresURL == "" {
		connErr = errors.New("POSTGRES_URL not provided; skip PostgreSQL Level 0 collection")
	} else {
		conn, connErr = collector.Dial(ctx, o.postgresCB, func(ctx context.Context) (collector.PostgresConn, error) {
			return o.openPostgres(ctx, o.cfg.PostgresURL)
		})
	}
	if conn != nil {
		defer conn.Close()
	}

	var (
		pgReport model.PostgresLevel0Report
		osRes    collector.OSResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		osRes = o.os.Collect(gctx)
		return nil
	})
	if conn != nil {
		g.Go(func() error {
			pgReport = collector.CollectPostgresLevel0(gctx, conn, o.cfg.Level0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c, err
	}
	if conn == nil {
		pgReport = collector.SkippedPostgresLevel0(connErr.Error())
	}
	c.postgres = &pgReport

	// The MySQL part stays empty for Postgres runs and its missing-URL
	// warning is suppressed.
	o.fillLevel0(&c.level0, osRes, nil)

	if target.Rank() >= negotiate.Level1.Rank() {
		if conn == nil {
			msg := "POSTGRES_URL not provided; skip Level 1 collection"
			if o.cfg.PostgresURL != "" {
				msg = connErr.Error()
			}
			r := collector.SkippedLevel1(msg)
			c.level1 = &r
		} else {
			r := o.level1.Collect(ctx, collector.NewPostgresLogSource(conn))
			c.level1 = &r
		}
	}

	if conn != nil && target.Rank() >= negotiate.Level2.Rank() {
		c.advanced = collector.ProbePostgresAdvanced(ctx, conn)
	}
	if target.Rank() >= negotiate.Level3.Rank() {
		c.deep = o.deep.Probe()
	}

	if err := ctx.Err(); err != nil {
		return c, fmt.Errorf("collection interrupted: %w", err)
	}
	return c, nil
}

// fillLevel0 merges the OS result into r. Database warnings come first.
func (o *Orchestrator) fillLevel0(r *model.Level0Report, osRes collector.OSResult, dbWarnings []string) {
	r.OS = osRes.Snapshot
	r.Capability.OSMetricsAccess = osRes.Snapshot.HasAnyMetric()
	r.Warnings = make([]string, 0, len(dbWarnings)+len(osRes.Warnings))
	r.Warnings = append(r.Warnings, dbWarnings...)
	r.Warnings = append(r.Warnings, osRes.Warnings...)
}

func (o *Orchestrator) logNegotiation(result negotiate.Result) {
	mapReason := negotiate.ReasonMapper(o.cfg.Engine)
	o.log.Info().Str("level", result.SelectedLevel.String()).Msg("collection level selected")
	for _, e := range result.Evaluations {
		if e.OK {
			o.log.Info().Str("level", e.Level.String()).Msg("level evaluation passed")
			continue
		}
		o.log.Warn().
			Str("level", e.Level.String()).
			Str("reasons", negotiate.JoinReasons(e.Reasons, mapReason)).
			Msg("level evaluation downgraded")
	}
	for _, t := range result.Tasks {
		o.log.Debug().
			Str("level", t.Level.String()).
			Str("task", t.Name).
			Str("source", t.Source).
			Str("purpose", t.Purpose).
			Msg("enabled collection task")
	}
}

// probe maps collector capabilities onto the engine-neutral probe.
func (c collected) probe(engine string) negotiate.Probe {
	var p negotiate.Probe
	if engine == config.EnginePostgres && c.postgres != nil {
		pg := c.postgres.Capability
		p.HasStatusAccess = pg.HasStatusAccess
		p.HasVariablesAccess = pg.HasSettingsAccess
		p.HasSchemaMetadataAccess = pg.HasStorageAccess
		p.HasReplicationStatusAccess = pg.HasReplicationStatusAccess
	} else {
		l0 := c.level0.Capability
		p.HasStatusAccess = l0.MySQLStatusAccess
		p.HasVariablesAccess = l0.MySQLVariablesAccess
		p.HasSchemaMetadataAccess = l0.InformationSchemaAccess
		p.HasReplicationStatusAccess = l0.ReplicationStatusAccess
	}
	p.HasOSMetricsAccess = c.level0.Capability.OSMetricsAccess

	if c.level1 != nil {
		p.CanEnableSlowLogHotSwitch = c.level1.Capability.CanEnableSlowLogHotSwitch
		p.CanReadSlowLog = c.level1.Capability.CanReadSlowLog
		p.CanReadErrorLog = c.level1.Capability.CanReadErrorLog
	}

	p.PerformanceSchemaEnabled = c.advanced.StatementStatsEnabled
	p.HasPerformanceSchemaAccess = c.advanced.StatementStatsAccess
	p.HasSysSchemaAccess = c.advanced.SysSchemaAccess
	p.CanSampleEngineStatusHighFreq = c.advanced.HighFreqStatusSample

	p.CanCaptureTcpdumpShortWindow = c.deep.Tcpdump.OK
	p.CanCapturePerfShortWindow = c.deep.Perf.OK
	p.CanCaptureStraceShortWindow = c.deep.Strace.OK
	return p
}

func (c collected) sourceStatus(engine string) []model.SourceStatus {
	status, settings, storage, replication := false, false, false, false
	if engine == config.EnginePostgres && c.postgres != nil {
		pg := c.postgres.Capability
		status, settings, storage, replication = pg.HasStatusAccess, pg.HasSettingsAccess, pg.HasStorageAccess, pg.HasReplicationStatusAccess
	} else {
		l0 := c.level0.Capability
		status, settings, storage, replication = l0.MySQLStatusAccess, l0.MySQLVariablesAccess, l0.InformationSchemaAccess, l0.ReplicationStatusAccess
	}

	out := []model.SourceStatus{
		{Source: model.SourceOSBasicMetrics, OK: c.level0.Capability.OSMetricsAccess},
		{Source: model.SourceStatusName(engine), OK: status},
		{Source: model.SourceSettingsName(engine), OK: settings},
		{Source: model.SourceStorageName(engine), OK: storage},
		{Source: model.SourceReplicationName(engine), OK: replication},
	}
	if c.level1 != nil {
		l1 := c.level1.Capability
		out = append(out,
			model.SourceStatus{Source: model.SourceHotSwitchName(engine), OK: l1.CanEnableSlowLogHotSwitch},
			model.SourceStatus{Source: model.SourceStatementLogName(engine), OK: l1.CanReadSlowLog},
			model.SourceStatus{Source: model.SourceErrorLogName(engine), OK: l1.CanReadErrorLog},
		)
	}
	return out
}

func (c collected) warnings(setup []string) []string {
	out := append([]string{}, setup...)
	out = append(out, c.level0.Warnings...)
	if c.postgres != nil {
		out = append(out, c.postgres.Warnings...)
	}
	if c.level1 != nil {
		out = append(out, c.level1.Warnings...)
	}
	return out
}

// Annotate extracts the record envelope fields from a payload.
func Annotate(p model.Payload) scheduler.Annotation {
	statuses := make([]scheduler.SourceStatus, len(p.SourceStatus))
	for i, s := range p.SourceStatus {
		statuses[i] = scheduler.SourceStatus{Source: s.Source, OK: s.OK}
	}
	warnings := p.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return scheduler.Annotation{
		SelectedLevel: p.SelectedLevel,
		SourceStatus:  statuses,
		Warnings:      warnings,
	}
}
