package ebpf

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
	"github.com/cilium/ebpf/rlimit"
)

// Capabilities summarizes kernel support for tracing-based samplers.
type Capabilities struct {
	Kernel         BTFInfo           `json:"kernel"`
	KprobePrograms bool              `json:"kprobe_programs"`
	PerfEventArray bool              `json:"perf_event_array"`
	PerfEvents     bool              `json:"perf_events"`
	Errors         map[string]string `json:"errors,omitempty"`
}

// Detect probes the running kernel. Feature probes load tiny test programs
// and usually need root; failures are recorded, never returned.
func Detect() Capabilities {
	c := Capabilities{
		Kernel:     *DetectBTF(),
		PerfEvents: HasPerfEvents(),
		Errors:     map[string]string{},
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		c.Errors["memlock"] = err.Error()
	}
	if err := features.HaveProgramType(ebpf.Kprobe); err != nil {
		c.Errors["kprobe_programs"] = err.Error()
	} else {
		c.KprobePrograms = true
	}
	if err := features.HaveMapType(ebpf.PerfEventArray); err != nil {
		c.Errors["perf_event_array"] = err.Error()
	} else {
		c.PerfEventArray = true
	}
	return c
}

// Format renders a human-readable summary.
func (c Capabilities) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Kernel: %s (BTF: %v, CO-RE: %v)\n\n", c.Kernel.KernelVersion, c.Kernel.Available, c.Kernel.CORESupport)

	rows := []struct {
		key string
		ok  bool
	}{
		{"perf_events", c.PerfEvents},
		{"kprobe_programs", c.KprobePrograms},
		{"perf_event_array", c.PerfEventArray},
	}
	for _, r := range rows {
		status := "✗"
		if r.ok {
			status = "✓"
		}
		fmt.Fprintf(&sb, "  %s %s", status, r.key)
		if msg, ok := c.Errors[r.key]; ok {
			fmt.Fprintf(&sb, " (%s)", msg)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
