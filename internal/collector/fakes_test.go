package collector

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/fanyang89/sql-insight/internal/model"
)

// mockCommandRunner fakes external command execution for testing.
type mockCommandRunner struct {
	results  map[string]CommandResult
	errors   map[string]error
	paths    map[string]bool
	lookErrs map[string]error
}

func (m *mockCommandRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if err, ok := m.errors[key]; ok {
		return CommandResult{}, err
	}
	if res, ok := m.results[key]; ok {
		return res, nil
	}
	return CommandResult{}, &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func (m *mockCommandRunner) LookPath(name string) (string, error) {
	if err, ok := m.lookErrs[name]; ok {
		return "", err
	}
	if m.paths[name] {
		return "/usr/bin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// fakeMySQL answers queries by prefix. SHOW VARIABLES and
// SHOW VARIABLES LIKE are served from vars.
type fakeMySQL struct {
	mu       sync.Mutex
	vars     map[string]string
	varsErr  error
	rows     map[string][]map[string]string
	errs     map[string]error
	execErrs map[string]error
	execs    []string
	closed   bool
}

func (f *fakeMySQL) QueryMaps(ctx context.Context, query string) ([]map[string]string, error) {
	if err := lookupPrefix(f.errs, query); err != nil {
		return nil, err
	}
	if strings.HasPrefix(query, "SHOW VARIABLES") {
		if f.varsErr != nil {
			return nil, f.varsErr
		}
		if rest, ok := strings.CutPrefix(query, "SHOW VARIABLES LIKE '"); ok {
			name := strings.TrimSuffix(rest, "'")
			v, ok := f.vars[name]
			if !ok {
				return nil, nil
			}
			return []map[string]string{{"Variable_name": name, "Value": v}}, nil
		}
		var out []map[string]string
		for k, v := range f.vars {
			out = append(out, map[string]string{"Variable_name": k, "Value": v})
		}
		return out, nil
	}
	for k, rows := range f.rows {
		if strings.HasPrefix(query, k) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeMySQL) Exec(ctx context.Context, stmt string) error {
	f.mu.Lock()
	f.execs = append(f.execs, stmt)
	f.mu.Unlock()
	return lookupPrefix(f.execErrs, stmt)
}

func (f *fakeMySQL) Close() error {
	f.closed = true
	return nil
}

func (f *fakeMySQL) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.execs...)
}

func lookupPrefix(m map[string]error, s string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// longest prefix wins
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(s, k) {
			return m[k]
		}
	}
	return nil
}

// fakePostgres serves canned results.
type fakePostgres struct {
	mu        sync.Mutex
	pairs     map[string]map[string]string // keyed by query prefix
	pairsErr  map[string]error
	tables    []model.PostgresTableSize
	tablesErr error
	indexes   []model.PostgresIndex
	indexErr  error
	text      map[string]*string
	textErr   map[string]error
	execErrs  map[string]error
	execs     []string
	closed    bool
}

func (f *fakePostgres) Pairs(ctx context.Context, query string) (map[string]string, error) {
	if err := lookupPrefix(f.pairsErr, query); err != nil {
		return nil, err
	}
	for k, v := range f.pairs {
		if strings.HasPrefix(query, k) {
			return v, nil
		}
	}
	return map[string]string{}, nil
}

func (f *fakePostgres) TableSizes(ctx context.Context, limit int) ([]model.PostgresTableSize, error) {
	if f.tablesErr != nil {
		return nil, f.tablesErr
	}
	if len(f.tables) > limit {
		return f.tables[:limit], nil
	}
	return f.tables, nil
}

func (f *fakePostgres) Indexes(ctx context.Context, limit int) ([]model.PostgresIndex, error) {
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return f.indexes, nil
}

func (f *fakePostgres) QueryText(ctx context.Context, query string) (*string, error) {
	if err := lookupPrefix(f.textErr, query); err != nil {
		return nil, err
	}
	if v, ok := f.text[query]; ok {
		return v, nil
	}
	return nil, nil
}

func (f *fakePostgres) Exec(ctx context.Context, stmt string) error {
	f.mu.Lock()
	f.execs = append(f.execs, stmt)
	f.mu.Unlock()
	return lookupPrefix(f.execErrs, stmt)
}

func (f *fakePostgres) Close() { f.closed = true }

func strp(s string) *string { return &s }

// fakeSwitch records calls and returns canned results.
type fakeSwitch struct {
	mu           sync.Mutex
	prev         SwitchState
	enableErrs   []error
	restoreWarns []string
	enabled      []float64
	restored     []SwitchState
	restoreCtxOK []bool
}

func (s *fakeSwitch) Snapshot(ctx context.Context) SwitchState { return s.prev }

func (s *fakeSwitch) Enable(ctx context.Context, thresholdSecs float64) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = append(s.enabled, thresholdSecs)
	return s.enableErrs
}

func (s *fakeSwitch) Restore(ctx context.Context, prev SwitchState) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored = append(s.restored, prev)
	s.restoreCtxOK = append(s.restoreCtxOK, ctx.Err() == nil)
	return s.restoreWarns
}

func (s *fakeSwitch) restoreCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.restored)
}

// fakeLogSource is a StatementLogSource over a fakeSwitch.
type fakeLogSource struct {
	*fakeSwitch
	engine   string
	slowPath string
	errPath  string
}

func (f *fakeLogSource) Engine() string                                  { return f.engine }
func (f *fakeLogSource) DiscoverSlowLogPath(ctx context.Context) string  { return f.slowPath }
func (f *fakeLogSource) DiscoverErrorLogPath(ctx context.Context) string { return f.errPath }
func (f *fakeLogSource) SlowLogHint() string                             { return fmt.Sprintf("%s setting", f.engine) }
func (f *fakeLogSource) ErrorLogHint() string                            { return fmt.Sprintf("%s error setting", f.engine) }
