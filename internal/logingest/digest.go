package logingest

import "sort"

// SlowSQLDigest aggregates every entry sharing one fingerprint.
type SlowSQLDigest struct {
	Fingerprint        string  `json:"fingerprint"`
	SampleSQL          string  `json:"sample_sql"`
	Count              uint64  `json:"count"`
	TotalQueryTimeSecs float64 `json:"total_query_time_secs"`
	AvgQueryTimeSecs   float64 `json:"avg_query_time_secs"`
	TotalLockTimeSecs  float64 `json:"total_lock_time_secs"`
	TotalRowsSent      uint64  `json:"total_rows_sent"`
	TotalRowsExamined  uint64  `json:"total_rows_examined"`
}

// AggregateDigests groups entries by Fingerprint. The first raw SQL seen
// for a fingerprint becomes its sample. Digests are ordered by total query
// time (compared in whole microseconds) descending, then by count descending.
func AggregateDigests(entries []Entry) []SlowSQLDigest {
	grouped := make(map[string]*SlowSQLDigest)
	var order []string

	for _, e := range entries {
		fp := Fingerprint(e.SQL)
		d, ok := grouped[fp]
		if !ok {
			d = &SlowSQLDigest{Fingerprint: fp, SampleSQL: e.SQL}
			grouped[fp] = d
			order = append(order, fp)
		}
		d.Count++
		d.TotalQueryTimeSecs += e.QueryTimeSecs
		d.TotalLockTimeSecs += e.LockTimeSecs
		d.TotalRowsSent += e.RowsSent
		d.TotalRowsExamined += e.RowsExamined
	}

	digests := make([]SlowSQLDigest, 0, len(order))
	for _, fp := range order {
		d := grouped[fp]
		if d.Count > 0 {
			d.AvgQueryTimeSecs = d.TotalQueryTimeSecs / float64(d.Count)
		}
		digests = append(digests, *d)
	}

	sort.SliceStable(digests, func(i, j int) bool {
		mi, mj := micros(digests[i].TotalQueryTimeSecs), micros(digests[j].TotalQueryTimeSecs)
		if mi != mj {
			return mi > mj
		}
		return digests[i].Count > digests[j].Count
	})

	return digests
}

func micros(secs float64) uint64 {
	if secs <= 0 {
		return 0
	}
	return uint64(secs * 1e6)
}
