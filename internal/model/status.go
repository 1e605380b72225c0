package model

import (
	"strconv"
	"strings"
	"time"
)

// Query is a Livestatus request: a table plus ordered header clauses
// ("Columns: ...", "Filter: ...", "Limit: ..."). Build it with NewQuery.
type Query struct {
	Table  string
	Filter []string
}

// NewQuery builds a Query. A leading "GET " on table is accepted and
// stripped, and clauses are copied so the caller's slice can be reused.
func NewQuery(table string, clauses ...string) Query {
	table = strings.TrimSpace(table)
	if len(table) > 4 && strings.EqualFold(table[:4], "GET ") {
		table = strings.TrimSpace(table[4:])
	}
	filter := make([]string, 0, len(clauses))
	for _, c := range clauses {
		c = strings.TrimSpace(c)
		if c != "" {
			filter = append(filter, c)
		}
	}
	return Query{Table: table, Filter: filter}
}

// ResultRow maps a column name to its decoded value: int64, float64 or string.
type ResultRow map[string]any

// String returns the value of col formatted as a string.
func (r ResultRow) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Int returns the integer value of col, or 0.
func (r ResultRow) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Float returns the numeric value of col, or 0.
func (r ResultRow) Float(col string) float64 {
	switch v := r[col].(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// Time interprets col as unix seconds. Zero means unset.
func (r ResultRow) Time(col string) time.Time {
	sec := r.Int(col)
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// ConfigEntry is one key=value directive from nagios.cfg.
type ConfigEntry struct {
	Key   string
	Value string
	Line  int
}

// AlertEvent is one state change taken from the daemon's log.
type AlertEvent struct {
	Host      string    `json:"host_name"`
	Service   string    `json:"service_description,omitempty"`
	Time      time.Time `json:"time"`
	State     int       `json:"state"`
	StateType string    `json:"state_type,omitempty"`
	Output    string    `json:"plugin_output,omitempty"`
}

// RankedProducer is a host or service with its alert count.
type RankedProducer struct {
	EntityName string `json:"entity_name"`
	Host       string `json:"host_name"`
	Service    string `json:"service_description,omitempty"`
	Count      int    `json:"count"`
}

// CheckResult is a passive check result to hand to the daemon.
type CheckResult struct {
	Host       string
	Service    string // empty = host check
	StatusCode int
	Output     string
	PerfData   string
}
