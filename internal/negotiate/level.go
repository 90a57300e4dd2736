// Package negotiate computes the richest collection level the environment
// can satisfy, given an operator policy and a capability probe.
package negotiate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is a diagnostic tier. The numeric value is its rank.
type Level int

const (
	Level0 Level = 0 // always-on basics
	Level1 Level = 1 // slow log + error log
	Level2 Level = 2 // performance/insight subsystem
	Level3 Level = 3 // expert, high-frequency sampling
)

// Levels lists every level in ascending rank.
var Levels = []Level{Level0, Level1, Level2, Level3}

// Rank returns the integer rank used for all ordering decisions.
func (l Level) Rank() int { return int(l) }

// Valid reports whether l is a known level.
func (l Level) Valid() bool { return l >= Level0 && l <= Level3 }

func (l Level) String() string {
	return fmt.Sprintf("Level %d", l.Rank())
}

// MinLevel returns the lower-ranked of a and b.
func MinLevel(a, b Level) Level {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// ParseLevel accepts "2", "level2", "level-2", "Level 2" and "l2".
func ParseLevel(s string) (Level, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(v)
	v = strings.TrimPrefix(v, "level")
	v = strings.TrimPrefix(v, "l")
	switch v {
	case "0":
		return Level0, nil
	case "1":
		return Level1, nil
	case "2":
		return Level2, nil
	case "3":
		return Level3, nil
	}
	return Level0, fmt.Errorf("unknown collection level %q", s)
}

// MarshalJSON encodes the level by its display name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the display name or a bare rank.
func (l *Level) UnmarshalJSON(data []byte) error {
	var rank int
	if err := json.Unmarshal(data, &rank); err == nil {
		parsed, err := ParseLevel(fmt.Sprint(rank))
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode level: %w", err)
	}
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Policy is the operator's intent for one cycle.
type Policy struct {
	PreferredLevel    Level `json:"preferred_level" yaml:"preferred_level"`
	MaxAcceptedLevel  Level `json:"max_accepted_level" yaml:"max_accepted_level"`
	ExpertModeEnabled bool  `json:"expert_mode_enabled" yaml:"expert_mode_enabled"`
}

// DefaultPolicy prefers Level 3 but caps at Level 2 with expert mode off.
func DefaultPolicy() Policy {
	return Policy{
		PreferredLevel:   Level3,
		MaxAcceptedLevel: Level2,
	}
}

// Target is the highest level the policy allows.
func (p Policy) Target() Level {
	return MinLevel(p.PreferredLevel, p.MaxAcceptedLevel)
}

// Probe is an immutable snapshot of what the environment permits.
// Field names are engine neutral in meaning; the JSON tags keep the
// historical MySQL vocabulary used by the record contract.
type Probe struct {
	HasStatusAccess               bool `json:"has_mysql_status_access"`
	HasVariablesAccess            bool `json:"has_mysql_variables_access"`
	HasSchemaMetadataAccess       bool `json:"has_information_schema_access"`
	HasReplicationStatusAccess    bool `json:"has_replication_status_access"`
	HasOSMetricsAccess            bool `json:"has_os_metrics_access"`
	CanEnableSlowLogHotSwitch     bool `json:"can_enable_slow_log_hot_switch"`
	CanReadSlowLog                bool `json:"can_read_slow_log"`
	CanReadErrorLog               bool `json:"can_read_error_log"`
	PerformanceSchemaEnabled      bool `json:"performance_schema_enabled"`
	HasPerformanceSchemaAccess    bool `json:"has_performance_schema_access"`
	HasSysSchemaAccess            bool `json:"has_sys_schema_access"`
	CanCaptureTcpdumpShortWindow  bool `json:"can_capture_tcpdump_short_window"`
	CanCapturePerfShortWindow     bool `json:"can_capture_perf_short_window"`
	CanCaptureStraceShortWindow   bool `json:"can_capture_strace_short_window"`
	CanSampleEngineStatusHighFreq bool `json:"can_sample_innodb_status_high_frequency"`
}

// HasDeepSampler is true when any short-window deep sampler is usable.
func (p Probe) HasDeepSampler() bool {
	return p.CanCaptureTcpdumpShortWindow ||
		p.CanCapturePerfShortWindow ||
		p.CanCaptureStraceShortWindow
}
