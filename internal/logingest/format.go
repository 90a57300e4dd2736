package logingest

import "fmt"

// Entry is one parsed statement occurrence. Grammars that cannot observe
// a counter leave it at zero.
type Entry struct {
	SQL           string
	QueryTimeSecs float64
	LockTimeSecs  float64
	RowsSent      uint64
	RowsExamined  uint64
}

// StatementLogFormat is one slow-statement log grammar. Every format
// converges on Entry so a single aggregator serves all engines.
type StatementLogFormat interface {
	// Name identifies the grammar, e.g. "mysql-slow-log".
	Name() string
	// Parse extracts complete entries. Malformed records are skipped.
	Parse(content string) []Entry
}

// FormatForEngine returns the statement log grammar for an engine name.
func FormatForEngine(engine string) (StatementLogFormat, error) {
	switch engine {
	case "mysql":
		return MySQLSlowLog{}, nil
	case "postgres":
		return PostgresStatementLog{}, nil
	}
	return nil, fmt.Errorf("no statement log format for engine %q", engine)
}
