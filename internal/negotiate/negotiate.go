package negotiate

// Unmet-requirement reasons. Postgres callers translate them with MapReason.
const (
	ReasonNoStatus          = "missing SHOW GLOBAL STATUS access"
	ReasonNoVariables       = "missing SHOW VARIABLES access"
	ReasonNoSchemaMetadata  = "missing INFORMATION_SCHEMA access"
	ReasonNoReplication     = "missing replication status access"
	ReasonNoOSMetrics       = "missing OS-level metrics access (/proc, vmstat, iostat, sar)"
	ReasonNoHotSwitch       = "cannot hot-enable slow log"
	ReasonNoSlowLog         = "cannot collect slow log for digest aggregation"
	ReasonNoErrorLog        = "cannot collect error log"
	ReasonPerfSchemaOff     = "performance_schema is disabled"
	ReasonNoPerfSchemaRead  = "missing performance_schema read access"
	ReasonExpertDisabled    = "expert mode is disabled by policy"
	ReasonNoHighFreqSampler = "cannot sample InnoDB status at high frequency"
	ReasonNoDeepSampler     = "no short-window deep sampler available (tcpdump/perf/strace)"
)

// Evaluation is the verdict for one level.
type Evaluation struct {
	Level   Level    `json:"level"`
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons"`
}

// Result is the outcome of one negotiation.
type Result struct {
	SelectedLevel Level        `json:"selected_level"`
	Evaluations   []Evaluation `json:"evaluations"` // levels <= target, descending
	Tasks         []Task       `json:"tasks"`
}

// check is one requirement; it returns "" when met.
type check func(Policy, Probe) string

func require(ok func(Policy, Probe) bool, reason string) check {
	return func(pol Policy, p Probe) string {
		if ok(pol, p) {
			return ""
		}
		return reason
	}
}

// levelChecks holds only each level's own requirements. Evaluate folds
// them in ascending order so level K always carries the reasons of K-1.
var levelChecks = [][]check{
	Level0: {
		require(func(_ Policy, p Probe) bool { return p.HasStatusAccess }, ReasonNoStatus),
		require(func(_ Policy, p Probe) bool { return p.HasVariablesAccess }, ReasonNoVariables),
		require(func(_ Policy, p Probe) bool { return p.HasSchemaMetadataAccess }, ReasonNoSchemaMetadata),
		require(func(_ Policy, p Probe) bool { return p.HasReplicationStatusAccess }, ReasonNoReplication),
		require(func(_ Policy, p Probe) bool { return p.HasOSMetricsAccess }, ReasonNoOSMetrics),
	},
	Level1: {
		require(func(_ Policy, p Probe) bool { return p.CanEnableSlowLogHotSwitch }, ReasonNoHotSwitch),
		require(func(_ Policy, p Probe) bool { return p.CanReadSlowLog }, ReasonNoSlowLog),
		require(func(_ Policy, p Probe) bool { return p.CanReadErrorLog }, ReasonNoErrorLog),
	},
	Level2: {
		require(func(_ Policy, p Probe) bool { return p.PerformanceSchemaEnabled }, ReasonPerfSchemaOff),
		require(func(_ Policy, p Probe) bool { return p.HasPerformanceSchemaAccess }, ReasonNoPerfSchemaRead),
	},
	Level3: {
		require(func(pol Policy, _ Probe) bool { return pol.ExpertModeEnabled }, ReasonExpertDisabled),
		require(func(_ Policy, p Probe) bool { return p.CanSampleEngineStatusHighFreq }, ReasonNoHighFreqSampler),
		require(func(_ Policy, p Probe) bool { return p.HasDeepSampler() }, ReasonNoDeepSampler),
	},
}

// EvaluateAll evaluates levels 0..upTo in ascending order. Each entry's
// reasons start with a copy of the previous entry's reasons.
func EvaluateAll(upTo Level, policy Policy, probe Probe) []Evaluation {
	if !upTo.Valid() {
		upTo = Level3
	}
	out := make([]Evaluation, 0, upTo.Rank()+1)
	var carried []string
	for _, level := range Levels {
		if level.Rank() > upTo.Rank() {
			break
		}
		reasons := append([]string{}, carried...)
		for _, c := range levelChecks[level] {
			if r := c(policy, probe); r != "" {
				reasons = append(reasons, r)
			}
		}
		out = append(out, Evaluation{Level: level, OK: len(reasons) == 0, Reasons: reasons})
		carried = reasons
	}
	return out
}

// Evaluate returns the verdict for a single level.
func Evaluate(level Level, policy Policy, probe Probe) Evaluation {
	all := EvaluateAll(level, policy, probe)
	return all[len(all)-1]
}

// Negotiate picks the highest satisfied level at or below the policy target.
// Level 0 is the floor even when its own checks fail. It never errors.
func Negotiate(policy Policy, probe Probe) Result {
	target := policy.Target()
	if !target.Valid() {
		target = Level0
	}
	asc := EvaluateAll(target, policy, probe)

	evaluations := make([]Evaluation, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		evaluations = append(evaluations, asc[i])
	}

	selected := Level0
	for _, e := range evaluations {
		if e.OK {
			selected = e.Level
			break
		}
	}

	return Result{
		SelectedLevel: selected,
		Evaluations:   evaluations,
		Tasks:         TasksForLevel(selected, probe),
	}
}

// DowngradeReasons formats every failed evaluation as "[Level N] r1; r2".
func (r Result) DowngradeReasons(mapReason func(string) string) []string {
	var out []string
	for _, e := range r.Evaluations {
		if e.OK {
			continue
		}
		out = append(out, "["+e.Level.String()+"] "+JoinReasons(e.Reasons, mapReason))
	}
	return out
}

// JoinReasons joins reasons with "; ", translating each through mapReason
// when it is non-nil.
func JoinReasons(reasons []string, mapReason func(string) string) string {
	s := ""
	for i, r := range reasons {
		if mapReason != nil {
			r = mapReason(r)
		}
		if i > 0 {
			s += "; "
		}
		s += r
	}
	return s
}
