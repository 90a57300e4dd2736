// Package installer installs the host tools the OS and deep-sampler
// collectors shell out to, on various Linux distributions.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Installer detects the Linux distribution and installs collector tools.
type Installer struct {
	DryRun bool
	Out    io.Writer

	// OSReleasePath defaults to /etc/os-release.
	OSReleasePath string

	goos   string
	euid   func() int
	kernel func() (string, error)
	run    func(ctx context.Context, env []string, name string, args ...string) error
}

// New returns an Installer writing progress to out.
func New(out io.Writer, dryRun bool) *Installer {
	return &Installer{DryRun: dryRun, Out: out}
}

// DistroInfo holds OS and package manager details.
type DistroInfo struct {
	ID         string // "ubuntu", "centos", "fedora", "arch"
	VersionID  string // "22.04", "8", etc.
	PkgManager string // "apt", "yum", "dnf", "pacman", "zypper"
}

// PackageSet defines packages for a step.
type PackageSet struct {
	Step     string
	Packages map[string][]string // pkg manager → package names
}

func (inst *Installer) defaults() {
	if inst.Out == nil {
		inst.Out = os.Stdout
	}
	if inst.OSReleasePath == "" {
		inst.OSReleasePath = "/etc/os-release"
	}
	if inst.goos == "" {
		inst.goos = runtime.GOOS
	}
	if inst.euid == nil {
		inst.euid = os.Geteuid
	}
	if inst.kernel == nil {
		inst.kernel = KernelVersion
	}
	if inst.run == nil {
		inst.run = runCommand
	}
}

// Run performs the installation. Dry runs skip the root check.
func (inst *Installer) Run(ctx context.Context) error {
	inst.defaults()
	out := inst.Out

	if inst.goos != "linux" {
		return fmt.Errorf("sqlinsight install is only supported on Linux (current: %s)", inst.goos)
	}
	if !inst.DryRun && inst.euid() != 0 {
		return errors.New("sqlinsight install requires root privileges (use sudo)")
	}

	distro, err := DetectDistro(inst.OSReleasePath)
	if err != nil {
		return fmt.Errorf("detect distro: %w", err)
	}
	fmt.Fprintf(out, "Detected: %s %s (package manager: %s)\n", distro.ID, distro.VersionID, distro.PkgManager)

	kernel, err := inst.kernel()
	if err == nil {
		fmt.Fprintf(out, "Kernel: %s\n", kernel)
	}

	// Update package index first
	if !inst.DryRun {
		fmt.Fprintln(out, "\nUpdating package index...")
		if err := inst.updatePackageIndex(ctx, distro.PkgManager); err != nil {
			fmt.Fprintf(out, "  WARNING: %v\n", err)
		}
	}

	failed := 0
	for _, step := range BuildPackageSteps(distro, kernel) {
		pkgs := step.Packages[distro.PkgManager]
		if len(pkgs) == 0 {
			continue
		}

		fmt.Fprintf(out, "\n[%s] Installing: %s\n", step.Step, strings.Join(pkgs, " "))
		if inst.DryRun {
			fmt.Fprintf(out, "  (dry-run) Would run: %s install %s\n", distro.PkgManager, strings.Join(pkgs, " "))
			continue
		}

		// Install packages individually so one failure doesn't block others
		for _, pkg := range pkgs {
			if err := inst.installPackages(ctx, distro.PkgManager, []string{pkg}); err != nil {
				failed++
				fmt.Fprintf(out, "  WARNING: failed to install %s: %v\n", pkg, err)
			} else {
				fmt.Fprintf(out, "  OK: %s\n", pkg)
			}
		}
	}

	if failed > 0 {
		fmt.Fprintf(out, "\nInstallation finished with %d failed package(s).", failed)
	} else {
		fmt.Fprint(out, "\nInstallation complete.")
	}
	fmt.Fprintln(out, " Run 'sqlinsight capabilities' to verify.")
	return nil
}

// DetectDistro reads an os-release file to identify the distribution.
func DetectDistro(path string) (*DistroInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseOSRelease(string(data))
}

// ParseOSRelease maps os-release content to a distribution. Derivatives
// fall back to ID_LIKE.
func ParseOSRelease(content string) (*DistroInfo, error) {
	info := &DistroInfo{}
	var like []string
	for _, line := range strings.Split(content, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, `"'`)
		switch key {
		case "ID":
			info.ID = val
		case "VERSION_ID":
			info.VersionID = val
		case "ID_LIKE":
			like = strings.Fields(val)
		}
	}

	for _, id := range append([]string{info.ID}, like...) {
		if pm := packageManagerFor(id); pm != "" {
			info.PkgManager = pm
			return info, nil
		}
	}
	return nil, fmt.Errorf("unsupported distribution: %q", info.ID)
}

func packageManagerFor(id string) string {
	switch id {
	case "ubuntu", "debian", "linuxmint", "pop":
		return "apt"
	case "centos", "rhel", "rocky", "almalinux", "ol":
		return "yum"
	case "fedora":
		return "dnf"
	case "arch", "manjaro":
		return "pacman"
	case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles", "suse":
		return "zypper"
	}
	return ""
}

// KernelVersion returns the running kernel version.
func KernelVersion() (string, error) {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// BuildPackageSteps returns the ordered list of package installations for
// the host metric commands and the Level 3 deep samplers.
func BuildPackageSteps(distro *DistroInfo, kernelVer string) []PackageSet {
	// For perf on apt, try version-specific first, then generic
	aptPerfTools := []string{"linux-tools-generic"}
	if kernelVer != "" {
		aptPerfTools = []string{"linux-tools-" + kernelVer, "linux-tools-generic"}
	}
	if distro != nil && distro.ID == "debian" {
		aptPerfTools = []string{"linux-perf"}
	}

	return []PackageSet{
		{
			Step: "host-metrics",
			Packages: map[string][]string{
				"apt":    {"procps", "sysstat"},
				"yum":    {"procps-ng", "sysstat"},
				"dnf":    {"procps-ng", "sysstat"},
				"pacman": {"procps-ng", "sysstat"},
				"zypper": {"procps", "sysstat"},
			},
		},
		{
			Step: "tcpdump",
			Packages: map[string][]string{
				"apt":    {"tcpdump"},
				"yum":    {"tcpdump"},
				"dnf":    {"tcpdump"},
				"pacman": {"tcpdump"},
				"zypper": {"tcpdump"},
			},
		},
		{
			Step: "perf",
			Packages: map[string][]string{
				"apt":    aptPerfTools,
				"yum":    {"perf"},
				"dnf":    {"perf"},
				"pacman": {"perf"},
				"zypper": {"perf"},
			},
		},
		{
			Step: "strace",
			Packages: map[string][]string{
				"apt":    {"strace"},
				"yum":    {"strace"},
				"dnf":    {"strace"},
				"pacman": {"strace"},
				"zypper": {"strace"},
			},
		},
	}
}

func (inst *Installer) updatePackageIndex(ctx context.Context, pkgManager string) error {
	switch pkgManager {
	case "apt":
		return inst.run(ctx, []string{"DEBIAN_FRONTEND=noninteractive"}, "apt-get", "update", "-qq")
	case "yum":
		return inst.run(ctx, nil, "yum", "makecache", "-q")
	case "dnf":
		return inst.run(ctx, nil, "dnf", "makecache", "-q")
	case "pacman":
		return inst.run(ctx, nil, "pacman", "-Sy")
	case "zypper":
		return inst.run(ctx, nil, "zypper", "--non-interactive", "refresh")
	}
	return nil
}

func (inst *Installer) installPackages(ctx context.Context, pkgManager string, packages []string) error {
	switch pkgManager {
	case "apt":
		args := append([]string{"install", "-y", "-qq"}, packages...)
		return inst.run(ctx, []string{"DEBIAN_FRONTEND=noninteractive"}, "apt-get", args...)
	case "yum", "dnf", "zypper":
		args := append([]string{"install", "-y"}, packages...)
		return inst.run(ctx, nil, pkgManager, args...)
	case "pacman":
		args := append([]string{"-S", "--noconfirm"}, packages...)
		return inst.run(ctx, nil, "pacman", args...)
	}
	return fmt.Errorf("unsupported package manager: %s", pkgManager)
}

func runCommand(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
