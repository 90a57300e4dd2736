package logingest

import "testing"

func TestAggregateDigests_FromSlowLog(t *testing.T) {
	digests := AggregateDigests(MySQLSlowLog{}.Parse(readTestdata(t, "mysql-slow.log")))
	if len(digests) != 2 {
		t.Fatalf("got %d digests, want 2", len(digests))
	}

	// inventory update (2.5s) outranks the two order lookups (2.0s).
	if digests[0].Count != 1 || !approx(digests[0].TotalQueryTimeSecs, 2.5) {
		t.Errorf("digests[0] = %+v, want the inventory update", digests[0])
	}

	orders := digests[1]
	if orders.Fingerprint != "select * from orders where id = ?;" {
		t.Errorf("fingerprint = %q", orders.Fingerprint)
	}
	if orders.Count != 2 {
		t.Errorf("count = %d, want 2", orders.Count)
	}
	if orders.SampleSQL != "SELECT * FROM orders WHERE id = 100;" {
		t.Errorf("sample = %q, want first-seen SQL", orders.SampleSQL)
	}
	if !approx(orders.TotalQueryTimeSecs, 2.0) || !approx(orders.AvgQueryTimeSecs, 1.0) {
		t.Errorf("total/avg = %v/%v, want 2.0/1.0", orders.TotalQueryTimeSecs, orders.AvgQueryTimeSecs)
	}
	if !approx(orders.TotalLockTimeSecs, 0.012) {
		t.Errorf("lock = %v, want 0.012", orders.TotalLockTimeSecs)
	}
	if orders.TotalRowsSent != 2 || orders.TotalRowsExamined != 190 {
		t.Errorf("rows = %d/%d, want 2/190", orders.TotalRowsSent, orders.TotalRowsExamined)
	}
}

func TestAggregateDigests_TieBreakByCount(t *testing.T) {
	entries := []Entry{
		{SQL: "SELECT 1 FROM a", QueryTimeSecs: 0.5},
		{SQL: "SELECT 1 FROM b", QueryTimeSecs: 0.25},
		{SQL: "SELECT 2 FROM b", QueryTimeSecs: 0.25},
	}
	digests := AggregateDigests(entries)
	if len(digests) != 2 {
		t.Fatalf("got %d digests, want 2", len(digests))
	}
	if digests[0].Fingerprint != "select ? from b" {
		t.Errorf("equal totals should rank the higher count first, got %q", digests[0].Fingerprint)
	}
}

func TestAggregateDigests_Empty(t *testing.T) {
	if got := AggregateDigests(nil); len(got) != 0 {
		t.Errorf("AggregateDigests(nil) = %v, want empty", got)
	}
}
