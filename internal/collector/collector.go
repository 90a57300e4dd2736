// Package collector holds the data sources behind each collection level:
// host metrics, MySQL and PostgreSQL snapshots, statement log windows and
// the Level 2/3 capability probes. Collectors never fail a cycle; problems
// become warnings and false capability flags.
package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/fanyang89/sql-insight/internal/logger"
)

// CommandResult is the outcome of a command that started.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner abstracts external command execution for testability.
type CommandRunner interface {
	// Run executes a command. A non-zero exit is reported through
	// CommandResult.ExitCode; the error is reserved for commands that could
	// not be started, and wraps exec.ErrNotFound for a missing binary.
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)

	// LookPath resolves a binary on PATH.
	LookPath(name string) (string, error)
}

// ExecCommandRunner is the default CommandRunner using os/exec. With a
// Policy, binaries are verified before they run and subprocesses get a
// sanitized environment.
type ExecCommandRunner struct {
	Policy *BinaryPolicy
}

// NewExecCommandRunner returns a runner enforcing DefaultBinaryPolicy.
func NewExecCommandRunner() *ExecCommandRunner {
	return &ExecCommandRunner{Policy: DefaultBinaryPolicy()}
}

func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	path, err := r.LookPath(name)
	if err != nil {
		return CommandResult{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Policy != nil {
		cmd.Env = SanitizeEnv(os.Environ())
	}

	err = cmd.Run()
	res := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

// LookPath resolves name on PATH, verifying it when a Policy is set.
func (r *ExecCommandRunner) LookPath(name string) (string, error) {
	if r.Policy != nil {
		return r.Policy.Resolve(name)
	}
	return exec.LookPath(name)
}

// Availability describes whether a probed facility can be used and why not.
type Availability struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// warnList accumulates report warnings and logs each one as it is added.
type warnList struct {
	scope string
	log   zerolog.Logger
	items []string
}

func newWarnList(scope string) *warnList {
	return &warnList{
		scope: scope,
		log:   logger.WithComponent("collector"),
		items: []string{},
	}
}

func (w *warnList) add(msg string) {
	w.log.Warn().Str("scope", w.scope).Str("warning", msg).Msg("collector warning")
	w.items = append(w.items, msg)
}

func (w *warnList) addf(format string, args ...any) {
	w.add(fmt.Sprintf(format, args...))
}

func (w *warnList) list() []string { return w.items }
