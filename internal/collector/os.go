package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fanyang89/sql-insight/internal/model"
)

// maxCommandOutput bounds captured command output, in characters.
const maxCommandOutput = 4000

const truncatedSuffix = "\n...[truncated]"

type hostCommand struct {
	name string
	args []string
}

var hostCommands = []hostCommand{
	{"vmstat", nil},
	{"iostat", nil},
	{"sar", []string{"-u", "1", "1"}},
}

// OSCollector gathers basic host metrics for Level 0.
type OSCollector struct {
	runner   CommandRunner
	procRoot string

	// Metric sources, replaceable in tests.
	cpuTimes func(ctx context.Context) (*model.CPUTimes, error)
	memory   func(ctx context.Context) (*model.MemoryInfo, error)
	loadAvg  func(ctx context.Context) (*model.LoadAverage, error)
}

func NewOSCollector(procRoot string) *OSCollector {
	return NewOSCollectorWithRunner(procRoot, NewExecCommandRunner())
}

// NewOSCollectorWithRunner creates an OSCollector with a custom CommandRunner for testing.
func NewOSCollectorWithRunner(procRoot string, runner CommandRunner) *OSCollector {
	c := &OSCollector{runner: runner, procRoot: procRoot}
	c.cpuTimes = gopsutilCPU
	c.memory = gopsutilMemory
	c.loadAvg = c.gopsutilLoad
	return c
}

// OSResult is the OS part of the Level 0 report.
type OSResult struct {
	Snapshot model.OSSnapshot
	Warnings []string
}

func (c *OSCollector) Collect(ctx context.Context) OSResult {
	warns := newWarnList("level0.os")
	var snap model.OSSnapshot

	if v, err := c.cpuTimes(ctx); err != nil {
		warns.addf("failed reading cpu times: %v", err)
	} else {
		snap.CPU = v
	}
	if v, err := c.memory(ctx); err != nil {
		warns.addf("failed reading memory info: %v", err)
	} else {
		snap.Memory = v
	}
	if v, err := c.loadAvg(ctx); err != nil {
		warns.addf("failed reading load average: %v", err)
	} else {
		snap.LoadAverage = v
	}

	samples := make([]*model.CommandSample, len(hostCommands))
	for i, hc := range hostCommands {
		s := c.runOptional(ctx, hc.name, hc.args)
		if s.Available && s.Error != nil {
			warns.addf("%s failed: %s", s.Command, *s.Error)
		}
		samples[i] = s
	}
	snap.Vmstat, snap.Iostat, snap.Sar = samples[0], samples[1], samples[2]

	return OSResult{Snapshot: snap, Warnings: warns.list()}
}

func (c *OSCollector) runOptional(ctx context.Context, name string, args []string) *model.CommandSample {
	sample := &model.CommandSample{
		Command: name,
		Args:    append([]string{}, args...),
	}
	res, err := c.runner.Run(ctx, name, args...)
	if errors.Is(err, exec.ErrNotFound) {
		msg := "command not found"
		sample.Error = &msg
		return sample
	}
	sample.Available = true
	if err != nil {
		msg := err.Error()
		sample.Error = &msg
		return sample
	}

	code := res.ExitCode
	sample.StatusCode = &code
	sample.Output = truncateOutput(strings.TrimSpace(string(res.Stdout)))
	if code != 0 {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("exit status: %d", code)
		}
		sample.Error = &msg
	}
	return sample
}

// truncateOutput keeps the first maxCommandOutput characters. Empty output
// becomes nil.
func truncateOutput(s string) *string {
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > maxCommandOutput {
		runes := []rune(s)
		s = string(runes[:maxCommandOutput]) + truncatedSuffix
	}
	return &s
}

func gopsutilCPU(ctx context.Context) (*model.CPUTimes, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, errors.New("no cpu totals reported")
	}
	t := times[0]
	return &model.CPUTimes{
		User:    t.User,
		Nice:    t.Nice,
		System:  t.System,
		Idle:    t.Idle,
		Iowait:  t.Iowait,
		Irq:     t.Irq,
		Softirq: t.Softirq,
		Steal:   t.Steal,
	}, nil
}

func gopsutilMemory(ctx context.Context) (*model.MemoryInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	info := &model.MemoryInfo{
		MemTotalKB:     vm.Total / 1024,
		MemAvailableKB: vm.Available / 1024,
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		info.SwapTotalKB = swap.Total / 1024
		info.SwapFreeKB = swap.Free / 1024
	}
	return info, nil
}

func (c *OSCollector) gopsutilLoad(ctx context.Context) (*model.LoadAverage, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	la := &model.LoadAverage{One: avg.Load1, Five: avg.Load5, Fifteen: avg.Load15}
	if misc, err := load.MiscWithContext(ctx); err == nil {
		la.RunningTasks = fmt.Sprintf("%d/%d", misc.ProcsRunning, misc.ProcsTotal)
	}
	// gopsutil does not expose the last allocated pid.
	if raw, err := os.ReadFile(filepath.Join(c.procRoot, "loadavg")); err == nil {
		if parsed, ok := parseLoadAvg(string(raw)); ok {
			la.RunningTasks = parsed.RunningTasks
			la.LastPID = parsed.LastPID
		}
	}
	return la, nil
}

// parseLoadAvg reads "0.10 0.20 0.30 2/222 98765".
func parseLoadAvg(content string) (model.LoadAverage, bool) {
	parts := strings.Fields(content)
	if len(parts) < 5 {
		return model.LoadAverage{}, false
	}
	var la model.LoadAverage
	var err error
	if la.One, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return la, false
	}
	if la.Five, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return la, false
	}
	if la.Fifteen, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return la, false
	}
	la.RunningTasks = parts[3]
	if la.LastPID, err = strconv.ParseUint(parts[4], 10, 64); err != nil {
		return la, false
	}
	return la, true
}
