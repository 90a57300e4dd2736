package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// ContractVersion tags every emitted record.
const ContractVersion = "v1"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ScheduleWindow bounds one cycle's wall-clock span.
type ScheduleWindow struct {
	StartUnixMs int64 `json:"start_unix_ms"`
	EndUnixMs   int64 `json:"end_unix_ms"`
	DurationMs  int64 `json:"duration_ms"`
}

// AttemptTrace records one attempt, successful or not.
type AttemptTrace struct {
	Attempt    uint32  `json:"attempt"`
	DurationMs int64   `json:"duration_ms"`
	Status     string  `json:"status"`
	Error      *string `json:"error"`
}

// SourceStatus reports whether one data source was collected.
type SourceStatus struct {
	Source string `json:"source"`
	OK     bool   `json:"ok"`
}

// Record is the externally visible report for one cycle. The payload shape
// belongs to the caller.
type Record[T any] struct {
	ContractVersion string         `json:"contract_version"`
	RunID           string         `json:"run_id"`
	Cycle           uint32         `json:"cycle"`
	Engine          string         `json:"engine"`
	RequestedLevel  string         `json:"requested_level"`
	SelectedLevel   *string        `json:"selected_level"`
	Schedule        Config         `json:"schedule"`
	Window          ScheduleWindow `json:"window"`
	Attempts        []AttemptTrace `json:"attempts"`
	SourceStatus    []SourceStatus `json:"source_status"`
	Warnings        []string       `json:"warnings"`
	Status          string         `json:"status"`
	Error           *string        `json:"error"`
	Payload         *T             `json:"payload"`
}

// OK reports whether some attempt in the cycle succeeded.
func (r Record[T]) OK() bool { return r.Status == StatusOK }

// NewRunID returns a process-unique id of the form run-<ULID>. The ULID
// carries the start time in milliseconds.
func NewRunID() string {
	return "run-" + ulid.Make().String()
}

// LegacyRunID is the run-<unix ms>-<pid> form, used when ULID entropy
// is not wanted.
func LegacyRunID(now time.Time) string {
	return fmt.Sprintf("run-%d-%d", now.UnixMilli(), os.Getpid())
}

func strPtr(s string) *string { return &s }
