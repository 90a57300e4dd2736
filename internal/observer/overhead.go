// Package observer measures what a collection cost the host it ran on.
// Slow log hot switches and OS sampling are themselves load, so every
// payload carries the collector's own CPU, memory, IO and context switch
// deltas for the cycle.
package observer

import (
	"context"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// OverheadSummary captures the collector's own resource consumption between
// Start and Stop.
type OverheadSummary struct {
	SelfPID         int32  `json:"self_pid"`
	CPUUserMs       int64  `json:"cpu_user_ms"`
	CPUSystemMs     int64  `json:"cpu_system_ms"`
	MemoryRSSBytes  uint64 `json:"memory_rss_bytes"`
	DiskReadBytes   int64  `json:"disk_read_bytes"`
	DiskWriteBytes  int64  `json:"disk_write_bytes"`
	ContextSwitches int64  `json:"context_switches"`
}

// procStats is the subset of *process.Process the tracker reads.
type procStats interface {
	TimesWithContext(ctx context.Context) (*cpu.TimesStat, error)
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
	IOCountersWithContext(ctx context.Context) (*process.IOCountersStat, error)
	NumCtxSwitchesWithContext(ctx context.Context) (*process.NumCtxSwitchesStat, error)
}

// procSnapshot holds raw cumulative readings. Readings that fail stay zero.
type procSnapshot struct {
	userSecs    float64
	systemSecs  float64
	rss         uint64
	readBytes   uint64
	writeBytes  uint64
	voluntary   int64
	involuntary int64
}

// Tracker measures one process. Start and Stop may be called once per
// cycle; Stop without Start reports only the current RSS.
type Tracker struct {
	mu     sync.Mutex
	pid    int32
	proc   procStats
	before *procSnapshot
}

// NewSelfTracker tracks the current process.
func NewSelfTracker() (*Tracker, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return &Tracker{pid: pid, proc: p}, nil
}

// Start records the baseline readings.
func (t *Tracker) Start(ctx context.Context) {
	snap := readSnapshot(ctx, t.proc)
	t.mu.Lock()
	t.before = &snap
	t.mu.Unlock()
}

// Stop reads current usage and returns the delta since Start.
func (t *Tracker) Stop(ctx context.Context) OverheadSummary {
	now := readSnapshot(ctx, t.proc)

	t.mu.Lock()
	before := t.before
	t.before = nil
	t.mu.Unlock()

	summary := OverheadSummary{
		SelfPID:        t.pid,
		MemoryRSSBytes: now.rss,
	}
	if before == nil {
		return summary
	}
	summary.CPUUserMs = secsToMs(now.userSecs - before.userSecs)
	summary.CPUSystemMs = secsToMs(now.systemSecs - before.systemSecs)
	summary.DiskReadBytes = int64(now.readBytes) - int64(before.readBytes)
	summary.DiskWriteBytes = int64(now.writeBytes) - int64(before.writeBytes)
	summary.ContextSwitches = (now.voluntary - before.voluntary) + (now.involuntary - before.involuntary)
	return summary
}

func secsToMs(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(s*1000 + 0.5)
}

// readSnapshot leaves failed readings at zero. /proc/self/io
// in particular needs CAP_SYS_PTRACE in some containers.
func readSnapshot(ctx context.Context, p procStats) procSnapshot {
	var snap procSnapshot
	if times, err := p.TimesWithContext(ctx); err == nil && times != nil {
		snap.userSecs = times.User
		snap.systemSecs = times.System
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		snap.rss = mem.RSS
	}
	if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
		snap.readBytes = io.ReadBytes
		snap.writeBytes = io.WriteBytes
	}
	if cs, err := p.NumCtxSwitchesWithContext(ctx); err == nil && cs != nil {
		snap.voluntary = cs.Voluntary
		snap.involuntary = cs.Involuntary
	}
	return snap
}
