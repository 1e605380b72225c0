package tests

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/archive"
	"github.com/tinytelemetry/vigil/internal/httpserver"
	"github.com/tinytelemetry/vigil/internal/livestatus"
	"github.com/tinytelemetry/vigil/internal/livestatus/livestatustest"
	"github.com/tinytelemetry/vigil/internal/model"
	"github.com/tinytelemetry/vigil/internal/socketrpc"
	"github.com/tinytelemetry/vigil/internal/status"
)

type e2eStack struct {
	env     *livestatustest.Environment
	store   *archive.Store
	poller  *archive.Poller
	service *status.Service
	api     *httpserver.Server
	socket  *socketrpc.Server
	client  *socketrpc.Client
	apiAddr string
}

func startE2EStack(t *testing.T) *e2eStack {
	t.Helper()

	env := livestatustest.NewEnvironment(t)
	live, err := livestatus.NewClient(env.SocketPath(), livestatus.Config{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("livestatus.NewClient: %v", err)
	}

	store, err := archive.NewStore(filepath.Join(t.TempDir(), "vigil-e2e.duckdb"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	poller := archive.NewPoller(live, store, archive.PollerConfig{Interval: 20 * time.Millisecond, Backfill: 24 * time.Hour})

	service := status.New(live, status.Config{
		Archive:       store,
		NagiosConfig:  env.ConfigPath,
		DefaultLimit:  5,
		HistoryWindow: 24 * time.Hour,
	})

	api := httpserver.NewServer("127.0.0.1:0", service)
	if err := api.Start(); err != nil {
		t.Fatalf("api.Start: %v", err)
	}

	// Unix socket paths are length limited; keep it short.
	sockDir, err := os.MkdirTemp("", "ve2e")
	if err != nil {
		t.Fatalf("mkdir socket dir: %v", err)
	}
	sock := filepath.Join(sockDir, "vigil.sock")
	rpc := socketrpc.NewServer(sock, service)
	if err := rpc.Start(); err != nil {
		t.Fatalf("socket.Start: %v", err)
	}
	client, err := socketrpc.Dial(sock)
	if err != nil {
		t.Fatalf("socketrpc.Dial: %v", err)
	}

	stack := &e2eStack{
		env:     env,
		store:   store,
		poller:  poller,
		service: service,
		api:     api,
		socket:  rpc,
		client:  client,
		apiAddr: api.Addr(),
	}
	t.Cleanup(func() {
		_ = client.Close()
		rpc.Stop()
		_ = api.Stop()
		_ = store.Close()
		os.RemoveAll(sockDir)
	})
	return stack
}

func waitEventually(t *testing.T, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("eventually timeout: %s", msg)
		}
		time.Sleep(interval)
	}
}

func getJSON(t *testing.T, rawURL string, dest any) int {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	decodeBody(t, resp.Body, dest)
	return resp.StatusCode
}

func postForm(t *testing.T, rawURL string, form url.Values, dest any) int {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.PostForm(rawURL, form)
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	decodeBody(t, resp.Body, dest)
	return resp.StatusCode
}

func decodeBody(t *testing.T, r io.Reader, dest any) {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if dest == nil {
		return
	}
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
}

func seedAlerts(env *livestatustest.Environment, now time.Time) {
	for _, ev := range []model.AlertEvent{
		{Host: "web1", Service: "HTTP", Time: now.Add(-50 * time.Minute), State: 2, StateType: "HARD", Output: "connection refused"},
		{Host: "web1", Service: "HTTP", Time: now.Add(-40 * time.Minute), State: 0, StateType: "HARD", Output: "HTTP OK"},
		{Host: "web1", Service: "Disk", Time: now.Add(-30 * time.Minute), State: 1, StateType: "HARD", Output: "DISK WARNING"},
		{Host: "db1", Service: "MySQL", Time: now.Add(-20 * time.Minute), State: 2, StateType: "HARD", Output: "too many connections"},
	} {
		env.Server.AddEvent(ev)
	}
}

func TestE2E_LiveToArchiveToHTTPAndSocket(t *testing.T) {
	stack := startE2EStack(t)
	seedAlerts(stack.env, time.Now())

	n, err := stack.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if n != 4 {
		t.Fatalf("PollOnce archived %d events, want 4", n)
	}

	var health struct {
		Status string              `json:"status"`
		Checks []model.HealthCheck `json:"checks"`
	}
	if code := getJSON(t, "http://"+stack.apiAddr+"/api/health", &health); code != http.StatusOK {
		t.Fatalf("health status=%d body=%+v", code, health)
	}
	if health.Status != string(model.HealthPass) {
		t.Errorf("health = %+v", health)
	}

	var producers []model.RankedProducer
	code := postForm(t, "http://"+stack.apiAddr+"/rest/status/json/top_alert_producers", url.Values{"limit": {"5"}}, &producers)
	if code != http.StatusOK {
		t.Fatalf("top_alert_producers status=%d", code)
	}
	if len(producers) != 2 || producers[0].Host != "web1" || producers[0].Count != 2 || producers[1].Host != "db1" {
		t.Fatalf("producers = %+v, want web1(2) then db1(1)", producers)
	}

	var history []model.AlertEvent
	if code := getJSON(t, "http://"+stack.apiAddr+"/rest/status/json/state_history?host_name=web1", &history); code != http.StatusOK {
		t.Fatalf("state_history status=%d", code)
	}
	if len(history) != 3 {
		t.Fatalf("web1 history = %d events, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Time.Before(history[i-1].Time) {
			t.Errorf("history not oldest first at %d", i)
		}
	}

	ctx := context.Background()
	viaSocket, err := stack.client.TopAlertProducers(ctx, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("socket TopAlertProducers: %v", err)
	}
	if len(viaSocket) != 1 || viaSocket[0].Host != "web1" {
		t.Errorf("socket producers = %+v", viaSocket)
	}
	report := stack.client.Health(ctx)
	if report.Status != model.HealthPass {
		t.Errorf("socket health = %+v", report)
	}
}

func TestE2E_SubmittedResultReachesArchive(t *testing.T) {
	stack := startE2EStack(t)

	form := url.Values{
		"host_name":           {"web2"},
		"service_description": {"HTTP"},
		"status_code":         {"2"},
		"plugin_output":       {"HTTP CRITICAL"},
		"performance_data":    {"time=10s"},
	}
	var body map[string]any
	if code := postForm(t, "http://"+stack.apiAddr+"/rest/status/json/submit_check_result", form, &body); code != http.StatusOK {
		t.Fatalf("submit status=%d body=%v", code, body)
	}

	waitEventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		n, err := stack.poller.PollOnce(context.Background())
		return err == nil && n == 1
	}, "submitted result archived")

	var rows struct {
		Rows     []map[string]any `json:"rows"`
		RowCount int              `json:"row_count"`
	}
	q := url.Values{"table": {"services"}, "filter": {"Columns: host_name description state", "Filter: host_name = web2"}}
	if code := getJSON(t, "http://"+stack.apiAddr+"/rest/status/json/query?"+q.Encode(), &rows); code != http.StatusOK {
		t.Fatalf("query status=%d", code)
	}
	if rows.RowCount != 1 || rows.Rows[0]["description"] != "HTTP" {
		t.Fatalf("services rows = %+v", rows)
	}

	history, err := stack.client.StateHistory(context.Background(), "web2", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("socket StateHistory: %v", err)
	}
	if len(history) != 1 || history[0].State != 2 || history[0].Output != "HTTP CRITICAL" {
		t.Errorf("history = %+v", history)
	}
}

func TestE2E_ErrorsKeepTheirCodes(t *testing.T) {
	stack := startE2EStack(t)

	var body map[string]any
	code := postForm(t, "http://"+stack.apiAddr+"/rest/status/json/submit_check_result",
		url.Values{"host_name": {"web1"}, "status_code": {"9"}}, &body)
	if code != http.StatusBadRequest || body["code"] != apperr.CodeValidation {
		t.Errorf("bad status code: %d %v", code, body)
	}

	code = getJSON(t, "http://"+stack.apiAddr+"/rest/status/json/query?table=nope", &body)
	if code != http.StatusBadGateway || body["code"] != apperr.CodeProtocol {
		t.Errorf("unknown table: %d %v", code, body)
	}

	_, err := stack.client.Query(context.Background(), model.NewQuery("nope"))
	if !apperr.IsCode(err, apperr.CodeProtocol) {
		t.Errorf("socket unknown table: %v", err)
	}

	stack.env.Server.Stop()
	code = getJSON(t, "http://"+stack.apiAddr+"/api/health", &body)
	if code != http.StatusServiceUnavailable {
		t.Errorf("health with livestatus down: %d %v", code, body)
	}
	report := stack.client.Health(context.Background())
	if report.Status != model.HealthFail {
		t.Errorf("socket health = %+v", report)
	}
	var failing []string
	for _, c := range report.Checks {
		if c.Status == model.HealthFail {
			failing = append(failing, c.Name)
		}
	}
	if !strings.Contains(strings.Join(failing, ","), "livestatus") {
		t.Errorf("failing checks = %v, want livestatus", failing)
	}
}

func TestE2E_PollerRunIsIncremental(t *testing.T) {
	stack := startE2EStack(t)
	now := time.Now()
	seedAlerts(stack.env, now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stack.poller.Run(ctx) }()

	total := func() int64 {
		n, err := stack.store.TotalEvents(context.Background())
		if err != nil {
			return -1
		}
		return n
	}
	waitEventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return total() == 4 }, "initial backfill")

	stack.env.Server.AddEvent(model.AlertEvent{Host: "db1", Service: "MySQL", Time: now.Add(-time.Minute), State: 0, StateType: "HARD"})
	waitEventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return total() == 5 }, "incremental poll")

	// Re-polling the overlap must not duplicate rows.
	time.Sleep(100 * time.Millisecond)
	if got := total(); got != 5 {
		t.Errorf("total = %d after idle polls, want 5", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	top, err := stack.service.TopAlertProducers(context.Background(), 0, time.Time{}, time.Time{})
	if err != nil || len(top) != 0 {
		t.Errorf("limit 0: %v, %v", top, err)
	}
	if _, err := stack.service.TopAlertProducers(context.Background(), -1, time.Time{}, time.Time{}); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("negative limit: %v", err)
	}
}
