package logingest

import (
	"strconv"
	"strings"
)

// MySQLSlowLog parses the multi-line MySQL slow query log:
//
//	# Time: 2026-02-07T12:00:00.100000Z
//	# User@Host: app[app] @ localhost []
//	# Query_time: 1.200 Lock_time: 0.010 Rows_sent: 1 Rows_examined: 100
//	SET timestamp=1770430000;
//	SELECT * FROM orders WHERE id = 100;
//
// Lines before the first "# Time:" header are ignored.
type MySQLSlowLog struct{}

func (MySQLSlowLog) Name() string { return "mysql-slow-log" }

// slowLogBuilder accumulates one record while the parser is InEntry.
type slowLogBuilder struct {
	sqlLines []string
	entry    Entry
}

func (MySQLSlowLog) Parse(content string) []Entry {
	var (
		entries []Entry
		current *slowLogBuilder
	)

	flush := func() {
		if current == nil {
			return
		}
		sql := strings.TrimSpace(strings.Join(current.sqlLines, "\n"))
		if sql != "" {
			e := current.entry
			e.SQL = sql
			entries = append(entries, e)
		}
		current = nil
	}

	for _, line := range splitLines(content) {
		if strings.HasPrefix(line, "# Time:") {
			flush()
			current = &slowLogBuilder{}
			continue
		}
		if current == nil {
			continue
		}

		if strings.Contains(line, "Query_time:") {
			current.entry.QueryTimeSecs = metricFloat(line, "Query_time")
			current.entry.LockTimeSecs = metricFloat(line, "Lock_time")
			current.entry.RowsSent = metricUint(line, "Rows_sent")
			current.entry.RowsExamined = metricUint(line, "Rows_examined")
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "SET timestamp=") {
			continue
		}
		current.sqlLines = append(current.sqlLines, trimmed)
	}
	flush()

	return entries
}

// metricToken returns the whitespace-delimited token following "key:".
func metricToken(line, key string) string {
	marker := key + ":"
	idx := strings.Index(line, marker)
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(line[idx+len(marker):])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// metricFloat parses a float counter; missing or invalid values are 0.
func metricFloat(line, key string) float64 {
	v, err := strconv.ParseFloat(metricToken(line, key), 64)
	if err != nil {
		return 0
	}
	return v
}

// metricUint parses an unsigned counter; missing or invalid values are 0.
func metricUint(line, key string) uint64 {
	v, err := strconv.ParseUint(metricToken(line, key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// splitLines splits on '\n' and drops a trailing '\r' from each line.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
