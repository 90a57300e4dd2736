// Package diff compares two collection records and highlights regressions
// and improvements between them.
package diff

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/fanyang89/sql-insight/internal/model"
	"github.com/fanyang89/sql-insight/internal/negotiate"
	"github.com/fanyang89/sql-insight/internal/scheduler"
)

// Record is the record shape written by the collect command.
type Record = scheduler.Record[model.Payload]

const (
	DirectionRegression  = "regression"
	DirectionImprovement = "improvement"
	DirectionUnchanged   = "unchanged"
)

// DiffReport contains the comparison between two records.
type DiffReport struct {
	Baseline          string             `json:"baseline"`
	Current           string             `json:"current"`
	TimeDelta         string             `json:"time_delta"`
	BaselineLevel     string             `json:"baseline_level"`
	CurrentLevel      string             `json:"current_level"`
	LevelDelta        int                `json:"level_delta"` // positive = deeper
	CapabilityChanges []CapabilityChange `json:"capability_changes"`
	Changes           []MetricChange     `json:"changes"`
	NewDigests        []string           `json:"new_digests"`
	NewWarnings       []string           `json:"new_warnings"`
	Regressions       int                `json:"regressions"`
	Improvements      int                `json:"improvements"`
}

// CapabilityChange is one capability probe flag that flipped.
type CapabilityChange struct {
	Capability string `json:"capability"`
	Old        bool   `json:"old"`
	New        bool   `json:"new"`
	Direction  string `json:"direction"`
}

// MetricChange represents a single metric difference between records.
type MetricChange struct {
	Category     string  `json:"category"`
	Metric       string  `json:"metric"`
	OldValue     float64 `json:"old_value"`
	NewValue     float64 `json:"new_value"`
	Delta        float64 `json:"delta"`
	DeltaPct     float64 `json:"delta_pct"`
	Direction    string  `json:"direction"`    // "regression", "improvement", "unchanged"
	Significance string  `json:"significance"` // "high", "medium", "low"
}

// LoadRecord reads a record file. Daemon output holds one record per line;
// the last record that carries a payload is used.
func LoadRecord(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()
	rec, err := DecodeRecord(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// DecodeRecord returns the last record in r that carries a payload.
func DecodeRecord(r io.Reader) (*Record, error) {
	dec := json.NewDecoder(r)
	var last *Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if rec.Payload != nil {
			last = &rec
		}
	}
	if last == nil {
		return nil, errors.New("no record with a payload")
	}
	return last, nil
}

// Compare computes differences between two records. Both must carry a
// payload.
func Compare(baseline, current *Record) *DiffReport {
	oldP, newP := baseline.Payload, current.Payload
	diff := &DiffReport{
		Baseline:      label(baseline),
		Current:       label(current),
		TimeDelta:     (time.Duration(current.Window.StartUnixMs-baseline.Window.StartUnixMs) * time.Millisecond).String(),
		BaselineLevel: oldP.SelectedLevel,
		CurrentLevel:  newP.SelectedLevel,
	}
	if oldL, err := negotiate.ParseLevel(oldP.SelectedLevel); err == nil {
		if newL, err := negotiate.ParseLevel(newP.SelectedLevel); err == nil {
			diff.LevelDelta = newL.Rank() - oldL.Rank()
		}
	}

	compareCapabilities(diff, oldP.CapabilityProbe, newP.CapabilityProbe)
	compareOS(diff, oldP.Level0.OS, newP.Level0.OS)

	if oldP.PostgresLevel0 != nil && newP.PostgresLevel0 != nil {
		comparePostgres(diff, oldP.PostgresLevel0.Postgres, newP.PostgresLevel0.Postgres)
	} else {
		compareMySQL(diff, oldP.Level0.MySQL, newP.Level0.MySQL)
	}

	if oldP.Level1 != nil && newP.Level1 != nil {
		compareDigests(diff, oldP.Level1.SlowLog, newP.Level1.SlowLog)
		compareAlerts(diff, oldP.Level1.ErrorLog, newP.Level1.ErrorLog)
	}

	if oldP.CollectorOverhead != nil && newP.CollectorOverhead != nil {
		oldCPU := float64(oldP.CollectorOverhead.CPUUserMs + oldP.CollectorOverhead.CPUSystemMs)
		newCPU := float64(newP.CollectorOverhead.CPUUserMs + newP.CollectorOverhead.CPUSystemMs)
		addChange(diff, "collector", "cpu_ms", oldCPU, newCPU, true)
	}

	diff.NewWarnings = newEntries(baseline.Warnings, current.Warnings)

	// Tally regressions vs improvements
	for _, c := range diff.CapabilityChanges {
		tally(diff, c.Direction)
	}
	for _, c := range diff.Changes {
		tally(diff, c.Direction)
	}
	return diff
}

func label(r *Record) string {
	ts := time.UnixMilli(r.Window.StartUnixMs).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s#%d (%s)", r.RunID, r.Cycle, ts)
}

func tally(diff *DiffReport, direction string) {
	switch direction {
	case DirectionRegression:
		diff.Regressions++
	case DirectionImprovement:
		diff.Improvements++
	}
}

func compareCapabilities(diff *DiffReport, oldProbe, newProbe negotiate.Probe) {
	oldFlags, newFlags := probeFlags(oldProbe), probeFlags(newProbe)
	names := make([]string, 0, len(newFlags))
	for name := range newFlags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o, n := oldFlags[name], newFlags[name]
		if o == n {
			continue
		}
		direction := DirectionImprovement
		if o && !n {
			direction = DirectionRegression
		}
		diff.CapabilityChanges = append(diff.CapabilityChanges, CapabilityChange{
			Capability: name,
			Old:        o,
			New:        n,
			Direction:  direction,
		})
	}
}

// probeFlags keys the probe by its JSON field names.
func probeFlags(p negotiate.Probe) map[string]bool {
	flags := make(map[string]bool)
	data, err := json.Marshal(p)
	if err != nil {
		return flags
	}
	_ = json.Unmarshal(data, &flags)
	return flags
}

func compareOS(diff *DiffReport, oldOS, newOS model.OSSnapshot) {
	if oldOS.LoadAverage != nil && newOS.LoadAverage != nil {
		addChange(diff, "os", "load_avg_1", oldOS.LoadAverage.One, newOS.LoadAverage.One, true)
		addChange(diff, "os", "load_avg_5", oldOS.LoadAverage.Five, newOS.LoadAverage.Five, true)
	}
	if oldOS.Memory != nil && newOS.Memory != nil {
		if oldOS.Memory.MemTotalKB > 0 && newOS.Memory.MemTotalKB > 0 {
			addChange(diff, "os", "memory_utilization_pct", memUtilPct(oldOS.Memory), memUtilPct(newOS.Memory), true)
		}
		if oldOS.Memory.SwapTotalKB > 0 && newOS.Memory.SwapTotalKB > 0 {
			addChange(diff, "os", "swap_used_kb",
				float64(oldOS.Memory.SwapTotalKB-oldOS.Memory.SwapFreeKB),
				float64(newOS.Memory.SwapTotalKB-newOS.Memory.SwapFreeKB), true)
		}
	}
}

func memUtilPct(m *model.MemoryInfo) float64 {
	return float64(m.MemTotalKB-m.MemAvailableKB) / float64(m.MemTotalKB) * 100
}

// mysqlGauges are status values that describe current state rather than
// cumulative counts.
var mysqlGauges = []struct {
	name          string
	higherIsWorse bool
}{
	{"Threads_running", true},
	{"Threads_connected", true},
	{"Innodb_row_lock_current_waits", true},
	{"Innodb_buffer_pool_pages_free", false},
}

func compareMySQL(diff *DiffReport, oldSnap, newSnap model.MySQLSnapshot) {
	for _, g := range mysqlGauges {
		o, ok1 := numeric(oldSnap.GlobalStatus, g.name)
		n, ok2 := numeric(newSnap.GlobalStatus, g.name)
		if ok1 && ok2 {
			addChange(diff, "mysql", strings.ToLower(g.name), o, n, g.higherIsWorse)
		}
	}
	if o, ok := hitRatioPct(oldSnap.GlobalStatus, "Innodb_buffer_pool_reads", "Innodb_buffer_pool_read_requests"); ok {
		if n, ok := hitRatioPct(newSnap.GlobalStatus, "Innodb_buffer_pool_reads", "Innodb_buffer_pool_read_requests"); ok {
			addChange(diff, "mysql", "buffer_pool_hit_pct", o, n, false)
		}
	}
	o, ok1 := replicationLag(oldSnap.ReplicationStatus)
	n, ok2 := replicationLag(newSnap.ReplicationStatus)
	if ok1 && ok2 {
		addChange(diff, "mysql", "replication_lag_secs", o, n, true)
	}
}

func comparePostgres(diff *DiffReport, oldSnap, newSnap model.PostgresSnapshot) {
	if o, ok := numeric(oldSnap.GlobalStatus, "numbackends"); ok {
		if n, ok := numeric(newSnap.GlobalStatus, "numbackends"); ok {
			addChange(diff, "postgres", "numbackends", o, n, true)
		}
	}
	if o, ok := pgHitPct(oldSnap.GlobalStatus); ok {
		if n, ok := pgHitPct(newSnap.GlobalStatus); ok {
			addChange(diff, "postgres", "cache_hit_pct", o, n, false)
		}
	}
}

func numeric(m map[string]string, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return f, true
}

// hitRatioPct is 100 * (1 - misses/requests).
func hitRatioPct(m map[string]string, missKey, requestKey string) (float64, bool) {
	misses, ok1 := numeric(m, missKey)
	requests, ok2 := numeric(m, requestKey)
	if !ok1 || !ok2 || requests <= 0 {
		return 0, false
	}
	return (1 - misses/requests) * 100, true
}

func pgHitPct(m map[string]string) (float64, bool) {
	hit, ok1 := numeric(m, "blks_hit")
	read, ok2 := numeric(m, "blks_read")
	if !ok1 || !ok2 || hit+read <= 0 {
		return 0, false
	}
	return hit / (hit + read) * 100, true
}

func replicationLag(m map[string]string) (float64, bool) {
	if v, ok := numeric(m, "Seconds_Behind_Source"); ok {
		return v, true
	}
	return numeric(m, "Seconds_Behind_Master")
}

func compareDigests(diff *DiffReport, oldLog, newLog model.SlowLogSnapshot) {
	addChange(diff, "slow_log", "parsed_entries", float64(oldLog.ParsedEntries), float64(newLog.ParsedEntries), true)

	seen := make(map[string]float64, len(oldLog.Digests))
	for _, d := range oldLog.Digests {
		seen[d.Fingerprint] = d.AvgQueryTimeSecs
	}
	for _, d := range newLog.Digests {
		oldAvg, ok := seen[d.Fingerprint]
		if !ok {
			diff.NewDigests = append(diff.NewDigests, d.Fingerprint)
			continue
		}
		addChange(diff, "digest", d.Fingerprint, oldAvg, d.AvgQueryTimeSecs, true)
	}
}

func compareAlerts(diff *DiffReport, oldLog, newLog model.ErrorLogSnapshot) {
	counts := make(map[string][2]float64)
	for _, a := range oldLog.Alerts {
		c := counts[a.Category]
		c[0] = float64(a.Count)
		counts[a.Category] = c
	}
	for _, a := range newLog.Alerts {
		c := counts[a.Category]
		c[1] = float64(a.Count)
		counts[a.Category] = c
	}
	categories := make([]string, 0, len(counts))
	for cat := range counts {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		c := counts[cat]
		addChange(diff, "error_log", cat, c[0], c[1], true)
	}
}

func newEntries(old, cur []string) []string {
	seen := make(map[string]bool, len(old))
	for _, s := range old {
		seen[s] = true
	}
	var out []string
	for _, s := range cur {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

func addChange(diff *DiffReport, category, metric string, oldVal, newVal float64, higherIsWorse bool) {
	delta := newVal - oldVal
	deltaPct := 0.0
	if oldVal != 0 {
		deltaPct = (delta / math.Abs(oldVal)) * 100
	} else if newVal != 0 {
		deltaPct = math.Copysign(100, delta)
	}

	// Skip negligible changes
	if math.Abs(deltaPct) < 1.0 && math.Abs(delta) < 0.1 {
		return
	}

	direction := DirectionUnchanged
	if higherIsWorse {
		if deltaPct > 5 {
			direction = DirectionRegression
		} else if deltaPct < -5 {
			direction = DirectionImprovement
		}
	} else {
		if deltaPct < -5 {
			direction = DirectionRegression
		} else if deltaPct > 5 {
			direction = DirectionImprovement
		}
	}

	significance := "low"
	absPct := math.Abs(deltaPct)
	if absPct >= 50 {
		significance = "high"
	} else if absPct >= 20 {
		significance = "medium"
	}

	diff.Changes = append(diff.Changes, MetricChange{
		Category:     category,
		Metric:       metric,
		OldValue:     oldVal,
		NewValue:     newVal,
		Delta:        delta,
		DeltaPct:     deltaPct,
		Direction:    direction,
		Significance: significance,
	})
}

// FormatDiff returns a human-readable diff summary.
func FormatDiff(d *DiffReport) string {
	var sb strings.Builder

	sb.WriteString("=== Record Diff ===\n")
	fmt.Fprintf(&sb, "Baseline: %s\n", d.Baseline)
	fmt.Fprintf(&sb, "Current:  %s\n", d.Current)
	fmt.Fprintf(&sb, "Elapsed:  %s\n\n", d.TimeDelta)

	symbol := "→"
	if d.LevelDelta > 0 {
		symbol = "↑"
	} else if d.LevelDelta < 0 {
		symbol = "↓"
	}
	fmt.Fprintf(&sb, "Selected Level: %s → %s %s\n", d.BaselineLevel, d.CurrentLevel, symbol)
	fmt.Fprintf(&sb, "Regressions: %d, Improvements: %d\n\n", d.Regressions, d.Improvements)

	if len(d.CapabilityChanges) > 0 {
		sb.WriteString("Capabilities:\n")
		for _, c := range d.CapabilityChanges {
			mark := "+"
			if !c.New {
				mark = "-"
			}
			fmt.Fprintf(&sb, "  %s %s\n", mark, c.Capability)
		}
		sb.WriteString("\n")
	}

	// Show regressions first
	if d.Regressions > 0 {
		writeChanges(&sb, "⚠ Regressions:\n", d.Changes, DirectionRegression)
		sb.WriteString("\n")
	}
	if d.Improvements > 0 {
		writeChanges(&sb, "✓ Improvements:\n", d.Changes, DirectionImprovement)
		sb.WriteString("\n")
	}

	if len(d.NewDigests) > 0 {
		sb.WriteString("New slow statements:\n")
		for _, fp := range d.NewDigests {
			fmt.Fprintf(&sb, "  %s\n", fp)
		}
		sb.WriteString("\n")
	}
	if len(d.NewWarnings) > 0 {
		sb.WriteString("New warnings:\n")
		for _, w := range d.NewWarnings {
			fmt.Fprintf(&sb, "  %s\n", w)
		}
	}

	return sb.String()
}

func writeChanges(sb *strings.Builder, title string, changes []MetricChange, direction string) {
	sb.WriteString(title)
	for _, c := range changes {
		if c.Direction == direction {
			fmt.Fprintf(sb, "  [%s] %s/%s: %.2f → %.2f (%+.1f%%)\n",
				strings.ToUpper(c.Significance), c.Category, c.Metric,
				c.OldValue, c.NewValue, c.DeltaPct)
		}
	}
}
