package collector

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrUntrustedBinary marks a binary that was found but failed verification.
var ErrUntrustedBinary = errors.New("untrusted binary")

// DefaultBinaryDirs are the directories host and sampler tools may run from.
var DefaultBinaryDirs = []string{
	"/usr/bin",
	"/usr/sbin",
	"/usr/local/bin",
	"/usr/local/sbin",
	"/bin",
	"/sbin",
	"/snap/bin",
}

// BinaryPolicy verifies binaries before they are executed and builds the
// subprocess environment.
type BinaryPolicy struct {
	AllowedDirs []string
	// RequireRootOwner rejects binaries not owned by uid 0.
	RequireRootOwner bool

	stat func(string) (os.FileInfo, error)
}

// DefaultBinaryPolicy allows root-owned binaries from the system directories.
func DefaultBinaryPolicy() *BinaryPolicy {
	return &BinaryPolicy{
		AllowedDirs:      DefaultBinaryDirs,
		RequireRootOwner: true,
	}
}

// Verify checks that path is a regular file in an allowed directory, owned
// by root when required, and not world-writable. Symlinks are resolved
// first, so /usr/sbin/tcpdump -> /usr/bin/tcpdump is judged by its target.
func (p *BinaryPolicy) Verify(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	dir := filepath.Dir(absPath)
	allowed := false
	for _, d := range p.AllowedDirs {
		if dir == d {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q is not in an allowed directory", ErrUntrustedBinary, absPath)
	}

	stat := p.stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", absPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %q is a directory", ErrUntrustedBinary, absPath)
	}
	if p.RequireRootOwner {
		if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Uid != 0 {
			return fmt.Errorf("%w: %q is not owned by root (uid=%d)", ErrUntrustedBinary, absPath, st.Uid)
		}
	}
	if info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("%w: %q is world-writable (mode=%s)", ErrUntrustedBinary, absPath, info.Mode())
	}
	return nil
}

// Resolve finds name on PATH and verifies it.
func (p *BinaryPolicy) Resolve(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}
	if err := p.Verify(path); err != nil {
		return "", err
	}
	return path, nil
}

var safeEnvVars = map[string]bool{
	"PATH":   true,
	"HOME":   true,
	"LANG":   true,
	"LC_ALL": true,
	"TERM":   true,
	"TMPDIR": true,
}

// SanitizeEnv keeps only locale, path and home variables from environ, and
// guarantees a PATH. Database URLs and credentials never reach subprocesses.
func SanitizeEnv(environ []string) []string {
	var env []string
	hasPath := false
	for _, e := range environ {
		key, _, ok := strings.Cut(e, "=")
		if !ok || !safeEnvVars[key] {
			continue
		}
		if key == "PATH" {
			hasPath = true
		}
		env = append(env, e)
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return env
}
