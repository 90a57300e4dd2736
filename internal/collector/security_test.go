package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resolvedTempDir returns a temp dir without symlinks in its path, since
// BinaryPolicy judges binaries by their resolved location.
func resolvedTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeExecutable(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBinaryPolicyVerify(t *testing.T) {
	allowed := resolvedTempDir(t)
	other := resolvedTempDir(t)
	policy := &BinaryPolicy{AllowedDirs: []string{allowed}}

	good := writeExecutable(t, allowed, "vmstat", "#!/bin/sh\n", 0o755)
	writable := writeExecutable(t, allowed, "iostat", "#!/bin/sh\n", 0o777)
	outside := writeExecutable(t, other, "sar", "#!/bin/sh\n", 0o755)
	link := filepath.Join(allowed, "sar")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(allowed, "perf"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"allowed", good, ""},
		{"world writable", writable, "world-writable"},
		{"outside allowed dirs", outside, "not in an allowed directory"},
		{"symlink judged by target", link, "not in an allowed directory"},
		{"directory", filepath.Join(allowed, "perf"), "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Verify(tt.path)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
			if !errors.Is(err, ErrUntrustedBinary) {
				t.Errorf("error %v does not wrap ErrUntrustedBinary", err)
			}
		})
	}
}

func TestBinaryPolicyVerify_RootOwner(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("temp files are root-owned when running as root")
	}
	dir := resolvedTempDir(t)
	path := writeExecutable(t, dir, "tcpdump", "#!/bin/sh\n", 0o755)
	policy := &BinaryPolicy{AllowedDirs: []string{dir}, RequireRootOwner: true}

	err := policy.Verify(path)
	if !errors.Is(err, ErrUntrustedBinary) || !strings.Contains(err.Error(), "not owned by root") {
		t.Fatalf("got %v, want root ownership error", err)
	}
}

func TestSanitizeEnv(t *testing.T) {
	env := SanitizeEnv([]string{
		"HOME=/root",
		"MYSQL_URL=mysql://root:secret@db/app",
		"PGPASSWORD=secret",
		"LANG=C.UTF-8",
		"AWS_SECRET_ACCESS_KEY=x",
		"malformed",
	})
	want := []string{"HOME=/root", "LANG=C.UTF-8", "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	if fmt.Sprint(env) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", env, want)
	}

	env = SanitizeEnv([]string{"PATH=/opt/bin"})
	if len(env) != 1 || env[0] != "PATH=/opt/bin" {
		t.Errorf("existing PATH must be kept as is, got %v", env)
	}
}

func TestExecCommandRunner_PolicyAndEnv(t *testing.T) {
	dir := resolvedTempDir(t)
	writeExecutable(t, dir, "probe-tool", "#!/bin/sh\necho \"ok:${MYSQL_URL}\"\nexit 3\n", 0o755)
	t.Setenv("PATH", dir)
	t.Setenv("MYSQL_URL", "mysql://root:secret@db/app")

	r := &ExecCommandRunner{Policy: &BinaryPolicy{AllowedDirs: []string{dir}}}
	res, err := r.Run(context.Background(), "probe-tool")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "ok:" {
		t.Errorf("stdout = %q, want credentials stripped from the environment", got)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}

	r = &ExecCommandRunner{Policy: &BinaryPolicy{AllowedDirs: []string{"/nonexistent"}}}
	if _, err := r.Run(context.Background(), "probe-tool"); !errors.Is(err, ErrUntrustedBinary) {
		t.Errorf("got %v, want ErrUntrustedBinary", err)
	}
}

func TestDeepSamplerProbe_UntrustedBinary(t *testing.T) {
	untrusted := fmt.Errorf("%w: %q is world-writable (mode=-rwxrwxrwx)", ErrUntrustedBinary, "/usr/bin/strace")
	p := NewDeepSamplerProbe(&mockCommandRunner{
		paths:    map[string]bool{"tcpdump": true},
		lookErrs: map[string]error{"strace": untrusted},
	})
	p.isRoot = func() bool { return true }
	p.perfEvents = func() bool { return true }

	got := p.Probe()
	if !got.Tcpdump.OK {
		t.Errorf("tcpdump = %+v, want ok", got.Tcpdump)
	}
	if got.Strace.OK || got.Strace.Reason != untrusted.Error() {
		t.Errorf("strace = %+v, want reason %q", got.Strace, untrusted.Error())
	}
}
