package collector

import (
	"context"
	"strings"
	"time"

	"github.com/fanyang89/sql-insight/internal/logingest"
	"github.com/fanyang89/sql-insight/internal/model"
)

// Level1Collector samples the slow statement log over a window and the
// tail of the error log.
type Level1Collector struct {
	cfg    Level1Config
	format logingest.StatementLogFormat

	// replaceable in tests
	wait    func(ctx context.Context, path string, d time.Duration) (bool, error)
	acquire func(ctx context.Context, sw SlowLogSwitch, prev SwitchState, thresholdSecs float64) (*Lease, error)
}

func NewLevel1Collector(cfg Level1Config, format logingest.StatementLogFormat) *Level1Collector {
	return &Level1Collector{
		cfg:     cfg,
		format:  format,
		wait:    waitForWindow,
		acquire: AcquireSlowLog,
	}
}

// Collect runs the slow log window and the error log sample against src.
func (c *Level1Collector) Collect(ctx context.Context, src StatementLogSource) model.Level1Report {
	warns := newWarnList("level1." + src.Engine())
	report := model.Level1Report{
		CollectedAtUnixMs: time.Now().UnixMilli(),
		SlowLog: model.SlowLogSnapshot{
			WindowSecs:        c.cfg.WindowSecs,
			LongQueryTimeSecs: c.cfg.LongQueryTimeSecs,
			Digests:           []logingest.SlowSQLDigest{},
		},
		ErrorLog: model.ErrorLogSnapshot{Alerts: []logingest.ErrorAlert{}},
	}
	switch src.Engine() {
	case "postgres":
		report.Capability.PostgresConnected = true
	default:
		report.Capability.MySQLConnected = true
	}

	c.collectSlowLog(ctx, src, &report, warns)
	c.collectErrorLog(ctx, src, &report, warns)

	report.Warnings = warns.list()
	return report
}

func (c *Level1Collector) collectSlowLog(ctx context.Context, src StatementLogSource, report *model.Level1Report, warns *warnList) {
	prev := src.Snapshot(ctx)
	report.SlowLog.PreviousSlowQueryLog = prev.SlowQueryLog
	report.SlowLog.PreviousLongQueryTime = prev.LongQueryTime

	path := strings.TrimSpace(c.cfg.SlowLogPath)
	if path == "" {
		path = src.DiscoverSlowLogPath(ctx)
	}
	if path == "" {
		warns.addf("slow log path unavailable (provide --slow-log-path or %s)", src.SlowLogHint())
		return
	}
	report.SlowLog.SlowLogPath = &path

	offset, err := logingest.FileLen(path)
	if err != nil {
		offset = 0
	}

	if c.cfg.HotSwitch {
		lease, err := c.acquire(ctx, src, prev, c.cfg.LongQueryTimeSecs)
		if err != nil {
			warns.add(err.Error())
			return
		}
		defer func() {
			for _, w := range lease.Release(c.cfg.RestoreSettings) {
				warns.add(w)
			}
		}()
		if lease.Enabled() {
			report.Capability.CanEnableSlowLogHotSwitch = true
			report.SlowLog.EnabledForWindow = true
		}
		for _, e := range lease.EnableErrors() {
			warns.add(e.Error())
		}
	}

	rotated, err := c.wait(ctx, path, c.cfg.Window())
	if err != nil {
		warns.addf("slow log window interrupted: %v", err)
		return
	}
	if rotated {
		warns.addf("slow log %s was rotated during the window; collected segment may be incomplete", path)
	}

	segment, err := logingest.ReadAppendedSegment(path, offset, c.cfg.MaxSlowLogBytes)
	if err != nil {
		warns.addf("failed reading slow log file %s: %s", path, err)
		return
	}
	report.Capability.CanReadSlowLog = true
	report.SlowLog.CollectedBytes = len(segment)
	entries := c.format.Parse(segment)
	report.SlowLog.ParsedEntries = len(entries)
	report.SlowLog.Digests = logingest.AggregateDigests(entries)
	report.SlowLog.DigestCount = len(report.SlowLog.Digests)
}

func (c *Level1Collector) collectErrorLog(ctx context.Context, src StatementLogSource, report *model.Level1Report, warns *warnList) {
	path := strings.TrimSpace(c.cfg.ErrorLogPath)
	if path == "" {
		path = src.DiscoverErrorLogPath(ctx)
	}
	if path == "" {
		warns.addf("error log path unavailable (provide --error-log-path or %s)", src.ErrorLogHint())
		return
	}
	report.ErrorLog.ErrorLogPath = &path

	raw, err := logingest.ReadTail(path, c.cfg.MaxErrorLogBytes)
	if err != nil {
		warns.addf("failed reading error log file %s: %s", path, err)
		return
	}
	report.Capability.CanReadErrorLog = true
	lines := logingest.TakeLastLines(raw, c.cfg.MaxErrorLogLines)
	report.ErrorLog.SampledLines = len(lines)
	report.ErrorLog.Alerts = logingest.ExtractAlerts(lines)
	report.ErrorLog.AlertCount = len(report.ErrorLog.Alerts)
}

// SkippedLevel1 is the report when Level 1 could not reach the server.
func SkippedLevel1(warnings ...string) model.Level1Report {
	w := newWarnList("level1")
	for _, msg := range warnings {
		w.add(msg)
	}
	return model.Level1Report{
		CollectedAtUnixMs: time.Now().UnixMilli(),
		SlowLog:           model.SlowLogSnapshot{Digests: []logingest.SlowSQLDigest{}},
		ErrorLog:          model.ErrorLogSnapshot{Alerts: []logingest.ErrorAlert{}},
		Warnings:          w.list(),
	}
}
