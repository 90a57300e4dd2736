// Package ebpf detects the kernel facilities short-window deep samplers
// depend on: BTF, the bpf syscall and perf events.
package ebpf

import (
	"os"
	"strconv"
	"strings"
)

const (
	vmlinuxBTFPath    = "/sys/kernel/btf/vmlinux"
	perfEventParanoid = "/proc/sys/kernel/perf_event_paranoid"
)

// BTFInfo describes the BTF availability on the system.
type BTFInfo struct {
	Available     bool   `json:"available"`
	VmlinuxPath   string `json:"vmlinux_path,omitempty"`
	KernelVersion string `json:"kernel_version"`
	MajorVersion  int    `json:"major_version"`
	MinorVersion  int    `json:"minor_version"`
	CORESupport   bool   `json:"core_support"` // true if kernel >= 5.8
}

// DetectBTF checks for BTF availability.
func DetectBTF() *BTFInfo {
	info := &BTFInfo{}
	info.KernelVersion = readKernelVersion()
	info.MajorVersion, info.MinorVersion = parseKernelVersion(info.KernelVersion)

	if fileExists(vmlinuxBTFPath) {
		info.Available = true
		info.VmlinuxPath = vmlinuxBTFPath
	}

	// CO-RE requires kernel >= 5.8
	if info.MajorVersion > 5 || (info.MajorVersion == 5 && info.MinorVersion >= 8) {
		info.CORESupport = true
	}
	return info
}

// HasPerfEvents reports whether the kernel exposes perf_event_open, which
// perf needs for short-window CPU sampling.
func HasPerfEvents() bool {
	return fileExists(perfEventParanoid)
}

func readKernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) >= 3 {
		return fields[2]
	}
	return ""
}

func parseKernelVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	// Minor might contain a dash (e.g., "8-generic")
	minorStr := parts[1]
	if idx := strings.IndexAny(minorStr, "-+~"); idx >= 0 {
		minorStr = minorStr[:idx]
	}
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
