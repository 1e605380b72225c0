package graphite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

func TestBuildURL(t *testing.T) {
	base := "http://localhost/graphite"
	got := BuildURL(base, "localhost", "Ping", "packetloss", "-1d")

	assert.True(t, strings.HasPrefix(got, base), got)
	assert.Contains(t, got, "localhost")
	assert.Contains(t, got, "Ping")
	assert.Contains(t, got, "packetloss")

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/graphite/render", u.Path)
	q := u.Query()
	assert.Equal(t, "localhost.Ping.packetloss", q.Get("target"))
	assert.Equal(t, "-1d", q.Get("from"))
	assert.Equal(t, "connected", q.Get("lineMode"))
	assert.Equal(t, "localhost - Ping - packetloss", q.Get("title"))
}

func TestBuildURLKeepsRawNamesDecodable(t *testing.T) {
	got := BuildURL("http://g/", "web 1.example", "HTTP /health", "time", "-1h")
	assert.True(t, strings.HasPrefix(got, "http://g/render?"))

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "web_1_example.HTTP__health.time", u.Query().Get("target"))
	assert.Equal(t, "web 1.example - HTTP /health - time", u.Query().Get("title"))
}

func TestCompliant(t *testing.T) {
	assert.Equal(t, "abc-DEF_123", Compliant("abc-DEF_123"))
	assert.Equal(t, "a_b_c_", Compliant("a.b c/"))
	assert.Equal(t, "caf_", Compliant("café"))
}

type renderServer struct {
	mu       sync.Mutex
	requests []url.Values
	status   int
	body     func(q url.Values) any
}

func (s *renderServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Query())
	s.mu.Unlock()

	if s.status != 0 {
		w.WriteHeader(s.status)
		w.Write([]byte("boom\ntrace"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.body(r.URL.Query()))
}

// echoSeries returns two points for every requested target except those in skip.
func echoSeries(skip ...string) func(url.Values) any {
	return func(q url.Values) any {
		var out []map[string]any
		for _, target := range q["target"] {
			if contains(skip, target) {
				continue
			}
			out = append(out, map[string]any{
				"target":     target,
				"datapoints": []any{[]any{1.5, 1700000000}, []any{nil, 1700000060}},
			})
		}
		return out
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func keys(m map[string]model.MetricSeries) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestFetchOneUnitPerRange(t *testing.T) {
	rs := &renderServer{body: echoSeries()}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	units := []model.GraphUnit{{Label: "test", ID: "test", From: "-1d"}}
	got, err := Fetch(context.Background(), srv.URL, "localhost", "Ping", []string{"packetloss", "rta"}, units)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"packetloss", "rta"}, keys(got[0].Metrics))

	rta := got[0].Metrics["rta"]
	assert.Equal(t, "localhost.Ping.rta", rta.Target)
	require.Len(t, rta.Datapoints, 2)
	assert.Equal(t, 1.5, *rta.Datapoints[0].Value)
	assert.Nil(t, rta.Datapoints[1].Value)
	assert.Equal(t, int64(1700000060), rta.Datapoints[1].Timestamp)

	require.Len(t, rs.requests, 1)
	assert.Equal(t, "json", rs.requests[0].Get("format"))
	assert.Equal(t, []string{"localhost.Ping.packetloss", "localhost.Ping.rta"}, rs.requests[0]["target"])
}

func TestFetchKeepsEveryRequestedMetric(t *testing.T) {
	rs := &renderServer{body: echoSeries("web1.HTTP.size")}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL})
	require.NoError(t, err)

	units := []model.GraphUnit{
		{Label: "Day", ID: "day", From: "-1d"},
		{Label: "Week", ID: "week", From: "-7d"},
		{Label: "Month", ID: "month", From: "-30d"},
	}
	got, err := c.Fetch(context.Background(), "web1", "HTTP", []string{"time", "size", "time"}, units)
	require.NoError(t, err)
	require.Len(t, got, len(units))
	for i, u := range got {
		assert.Equal(t, units[i].Label, u.Label)
		assert.Equal(t, units[i].From, u.From)
		assert.Equal(t, []string{"size", "time"}, keys(u.Metrics))
		assert.Empty(t, u.Metrics["size"].Datapoints)
		assert.NotEmpty(t, u.Metrics["time"].Datapoints)
	}
	assert.Len(t, rs.requests, 3)
}

func TestFetchSharedTargetFillsEveryName(t *testing.T) {
	rs := &renderServer{body: echoSeries()}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	units := []model.GraphUnit{{Label: "Day", ID: "day", From: "-1d"}}
	got, err := Fetch(context.Background(), srv.URL, "h", "s", []string{"a.b", "a_b"}, units)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a.b", "a_b"}, keys(got[0].Metrics))
	for _, name := range []string{"a.b", "a_b"} {
		m := got[0].Metrics[name]
		assert.Equal(t, "h.s.a_b", m.Target, name)
		assert.Len(t, m.Datapoints, 2, name)
	}

	require.Len(t, rs.requests, 1)
	assert.Equal(t, []string{"h.s.a_b"}, rs.requests[0]["target"])
}

func TestFetchRejectsPaddedMetricNames(t *testing.T) {
	rs := &renderServer{body: echoSeries()}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	units := []model.GraphUnit{{Label: "Day", From: "-1d"}}
	_, err := Fetch(context.Background(), srv.URL, "h", "s", []string{" rta"}, units)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "got %v", err)
	assert.Empty(t, rs.requests)
}

func TestFetchNoUnits(t *testing.T) {
	c, err := NewClient(Config{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	got, err := c.Fetch(context.Background(), "h", "s", []string{"m"}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchErrors(t *testing.T) {
	units := []model.GraphUnit{{Label: "Day", From: "-1d"}}

	_, err := Fetch(context.Background(), "http://127.0.0.1:1", "h", "s", nil, units)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = Fetch(context.Background(), "not a url", "h", "s", []string{"m"}, units)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	failing := httptest.NewServer(&renderServer{status: http.StatusInternalServerError})
	defer failing.Close()
	_, err = Fetch(context.Background(), failing.URL, "h", "s", []string{"m"}, units)
	assert.True(t, apperr.IsCode(err, apperr.CodeProtocol))
	assert.Contains(t, err.Error(), "500: boom")

	garbage := httptest.NewServer(&renderServer{body: func(url.Values) any { return map[string]string{"error": "x"} }})
	defer garbage.Close()
	_, err = Fetch(context.Background(), garbage.URL, "h", "s", []string{"m"}, units)
	assert.True(t, apperr.IsCode(err, apperr.CodeProtocol))

	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()
	_, err = Fetch(context.Background(), addr, "h", "s", []string{"m"}, units)
	assert.True(t, apperr.IsCode(err, apperr.CodeConnection))
}

func TestGraphsBuildsURLsWithoutRequests(t *testing.T) {
	c, err := NewClient(Config{URL: "http://graphite.local/", Prefix: "nagios", Width: 800, Height: 200})
	require.NoError(t, err)

	got, err := c.Graphs("web1", "HTTP", []string{"time"}, []model.GraphUnit{{Label: "Day", ID: "day", From: "-1d"}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	m := got[0].Metrics["time"]
	assert.Equal(t, "nagios.web1.HTTP.time", m.Target)
	u, err := url.Parse(m.URL)
	require.NoError(t, err)
	assert.Equal(t, "graphite.local", u.Host)
	assert.Equal(t, "800", u.Query().Get("width"))
	assert.Equal(t, "nagios.web1.HTTP.time", u.Query().Get("target"))
}

func TestRateLimitedClientStillServes(t *testing.T) {
	rs := &renderServer{body: echoSeries()}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, RequestsPerSecond: 100})
	require.NoError(t, err)
	got, err := c.Fetch(context.Background(), "h", "s", []string{"m"}, []model.GraphUnit{{From: "-1h"}, {From: "-2h"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow, err := NewClient(Config{URL: srv.URL, RequestsPerSecond: 1})
	require.NoError(t, err)
	_, err = slow.Fetch(ctx, "h", "s", []string{"m"}, []model.GraphUnit{{From: "-1h"}})
	assert.True(t, apperr.IsCode(err, apperr.CodeConnection))
}
