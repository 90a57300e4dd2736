package logingest

import (
	"strconv"
	"strings"
)

// PostgresStatementLog parses statement durations written by
// log_min_duration_statement:
//
//	2026-02-07 12:00:00.100 UTC [42] LOG:  duration: 12.345 ms  statement: SELECT 1
//	2026-02-07 12:00:00.200 UTC [42] LOG:  duration: 3.100 ms  execute S_1: SELECT $1
//
// A duration line without a statement leaves the duration pending; the next
// line carrying a statement payload completes it. A newer duration line
// replaces a pending one. Only query time is observable in this grammar.
type PostgresStatementLog struct{}

func (PostgresStatementLog) Name() string { return "postgres-statement-log" }

func (PostgresStatementLog) Parse(content string) []Entry {
	var (
		entries []Entry
		pending *float64
	)

	for _, line := range splitLines(content) {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if secs, rest, ok := parseDuration(line); ok {
			if sql, found := statementPayload(rest); found {
				entries = append(entries, Entry{SQL: sql, QueryTimeSecs: secs})
				pending = nil
				continue
			}
			pending = &secs
			continue
		}

		if pending == nil {
			continue
		}
		if sql, found := statementPayload(line); found {
			entries = append(entries, Entry{SQL: sql, QueryTimeSecs: *pending})
			pending = nil
		}
	}

	return entries
}

// parseDuration finds "duration: <value> <unit>" and returns the value in
// seconds plus the remainder of the line after the unit.
func parseDuration(line string) (secs float64, rest string, ok bool) {
	const marker = "duration:"
	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0, "", false
	}
	after := strings.TrimLeft(line[idx+len(marker):], " \t")

	end := strings.IndexAny(after, " \t")
	if end < 0 {
		return 0, "", false
	}
	value, err := strconv.ParseFloat(after[:end], 64)
	if err != nil {
		return 0, "", false
	}
	after = strings.TrimLeft(after[end:], " \t")

	unitEnd := strings.IndexAny(after, " \t")
	unit := after
	if unitEnd >= 0 {
		unit = after[:unitEnd]
		rest = after[unitEnd:]
	}

	switch unit {
	case "s":
		secs = value
	case "ms":
		secs = value / 1e3
	case "us":
		secs = value / 1e6
	default:
		return 0, "", false
	}
	return secs, rest, true
}

// statementPayload returns the SQL after "statement:" or "execute <name>:".
func statementPayload(line string) (string, bool) {
	if idx := strings.Index(line, "statement:"); idx >= 0 {
		sql := strings.TrimSpace(line[idx+len("statement:"):])
		return sql, sql != ""
	}
	if idx := strings.Index(line, "execute "); idx >= 0 {
		rest := line[idx+len("execute "):]
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return "", false
		}
		sql := strings.TrimSpace(rest[colon+1:])
		return sql, sql != ""
	}
	return "", false
}
