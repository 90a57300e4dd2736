package logingest

import (
	"sort"
	"strings"
)

// MaxAlertSamples bounds the raw lines kept per alert category.
const MaxAlertSamples = 3

// ErrorAlert aggregates log lines matching one category.
type ErrorAlert struct {
	Category    string   `json:"category"`
	Count       uint64   `json:"count"`
	SampleLines []string `json:"sample_lines"`
}

type alertCategory struct {
	name     string
	keywords []string
}

// categories covers MySQL and PostgreSQL vocabulary. Matching is
// case-insensitive substring search; a line may hit several categories.
var categories = []alertCategory{
	{"deadlock", []string{"deadlock"}},
	{"crash_recovery", []string{
		"crash recovery",
		"starting crash recovery",
		"recovery completed",
		"automatic recovery in progress",
		"was not properly shut down",
		"redo starts at",
		"redo done at",
	}},
	{"purge", []string{"purge", "vacuum", "wraparound"}},
	{"replication", []string{
		"replication",
		"replica",
		"slave",
		"relay log",
		"group replication",
		"binlog",
		"wal receiver",
		"walreceiver",
		"wal sender",
		"walsender",
		"streaming replication",
		"streaming wal",
		"replication slot",
	}},
}

// ClassifyLine returns every category a lower-cased line belongs to.
func ClassifyLine(lower string) []string {
	var out []string
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				out = append(out, c.name)
				break
			}
		}
	}
	return out
}

// ExtractAlerts classifies trimmed, non-empty log lines into alert buckets,
// keeping up to MaxAlertSamples raw lines per category. Alerts are ordered
// by count descending.
func ExtractAlerts(lines []string) []ErrorAlert {
	grouped := make(map[string]*ErrorAlert)
	var order []string

	for _, line := range lines {
		for _, cat := range ClassifyLine(strings.ToLower(line)) {
			a, ok := grouped[cat]
			if !ok {
				a = &ErrorAlert{Category: cat, SampleLines: []string{}}
				grouped[cat] = a
				order = append(order, cat)
			}
			a.Count++
			if len(a.SampleLines) < MaxAlertSamples {
				a.SampleLines = append(a.SampleLines, line)
			}
		}
	}

	alerts := make([]ErrorAlert, 0, len(order))
	for _, cat := range order {
		alerts = append(alerts, *grouped[cat])
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Count > alerts[j].Count
	})
	return alerts
}
