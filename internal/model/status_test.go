package model

import (
	"testing"
	"time"
)

func TestNewQueryStripsGetAndCopies(t *testing.T) {
	clauses := []string{"Columns: requests", "  ", "Filter: state = 1"}
	q := NewQuery("GET status", clauses...)
	if q.Table != "status" {
		t.Errorf("Table = %q, want %q", q.Table, "status")
	}
	if len(q.Filter) != 2 {
		t.Fatalf("len(Filter) = %d, want 2", len(q.Filter))
	}
	clauses[0] = "Columns: changed"
	if q.Filter[0] != "Columns: requests" {
		t.Errorf("Filter[0] = %q, query must not alias caller slice", q.Filter[0])
	}
}

func TestResultRowAccessors(t *testing.T) {
	row := ResultRow{
		"host_name":  "ok_host",
		"state":      int64(2),
		"latency":    0.25,
		"last_check": int64(1700000000),
		"numeric":    "42",
	}

	if got := row.String("host_name"); got != "ok_host" {
		t.Errorf("String = %q", got)
	}
	if got := row.String("state"); got != "2" {
		t.Errorf("String(state) = %q, want 2", got)
	}
	if got := row.Int("state"); got != 2 {
		t.Errorf("Int = %d, want 2", got)
	}
	if got := row.Int("numeric"); got != 42 {
		t.Errorf("Int(numeric) = %d, want 42", got)
	}
	if got := row.Float("latency"); got != 0.25 {
		t.Errorf("Float = %v, want 0.25", got)
	}
	if got := row.Time("last_check"); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Time = %v", got)
	}
	if got := row.Time("missing"); !got.IsZero() {
		t.Errorf("Time(missing) = %v, want zero", got)
	}
	if got := row.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
}
