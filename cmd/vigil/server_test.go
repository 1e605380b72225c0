package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/backup"
	"github.com/tinytelemetry/vigil/internal/livestatus/livestatustest"
	"github.com/tinytelemetry/vigil/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:8080" {
		t.Errorf("APIAddr = %q, want 127.0.0.1:8080", cfg.APIAddr)
	}
	if want := filepath.Join(home, ".local", "share", "vigil", "vigil.duckdb"); cfg.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, want)
	}
	if cfg.QueryTimeout != 5*time.Second || cfg.PollInterval != time.Minute {
		t.Errorf("timeouts = %s/%s", cfg.QueryTimeout, cfg.PollInterval)
	}
	if cfg.RetentionDays != 90 || cfg.DefaultLimit != model.DefaultTopLimit {
		t.Errorf("retention=%d limit=%d", cfg.RetentionDays, cfg.DefaultLimit)
	}
	if cfg.ConfigPath != "" {
		t.Errorf("ConfigPath = %q, want empty without a file", cfg.ConfigPath)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VIGIL_DEFAULT_LIMIT", "12")

	path := filepath.Join(home, "vigil.yml")
	body := "api-port: 9090\nretention-days: 7\npoll-interval: 30s\ndb-path: ~/data/a.duckdb\ngraphite-url: http://graphite.local\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:9090" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	if cfg.RetentionDays != 7 || cfg.PollInterval != 30*time.Second {
		t.Errorf("retention=%d poll=%s", cfg.RetentionDays, cfg.PollInterval)
	}
	if cfg.DefaultLimit != 12 {
		t.Errorf("DefaultLimit = %d, want 12 from env", cfg.DefaultLimit)
	}
	if cfg.DBPath != filepath.Join(home, "data", "a.duckdb") {
		t.Errorf("DBPath = %q, ~ not expanded", cfg.DBPath)
	}
	if cfg.ConfigPath != path {
		t.Errorf("ConfigPath = %q, want %q", cfg.ConfigPath, path)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	for _, body := range []string{
		"api-port: 70000\n",
		"retention-days: -1\n",
		"default-limit: 0\n",
		"query-timeout: 0s\n",
		"archive-enabled: false\nbackup-enabled: true\n",
	} {
		path := filepath.Join(home, "bad.yml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := loadConfig(path); err == nil {
			t.Errorf("%q: expected an error", strings.TrimSpace(body))
		}
	}
}

func TestLivestatusAddress(t *testing.T) {
	env := livestatustest.NewEnvironment(t)

	addr, err := livestatusAddress(appConfig{NagiosConfig: env.ConfigPath})
	if err != nil {
		t.Fatalf("livestatusAddress: %v", err)
	}
	if addr != env.SocketPath() {
		t.Errorf("addr = %q, want %q", addr, env.SocketPath())
	}

	addr, err = livestatusAddress(appConfig{LivestatusAddress: "tcp:nagios:6557", NagiosConfig: "/nonexistent"})
	if err != nil || addr != "tcp:nagios:6557" {
		t.Errorf("explicit address: %q, %v", addr, err)
	}

	env.WriteConfig(t, "cfg_file=/etc/nagios/objects.cfg")
	_, err = livestatusAddress(appConfig{NagiosConfig: env.ConfigPath})
	if apperr.ReasonOf(err) != apperr.ReasonMissingDirective {
		t.Errorf("missing directive: got %v", err)
	}
}

func TestBuildDaemon(t *testing.T) {
	env := livestatustest.NewEnvironment(t)
	env.Server.AddEvent(model.AlertEvent{Host: "web1", Service: "HTTP", Time: time.Now().Add(-time.Hour), State: 2, StateType: "HARD"})

	cfg := appConfig{
		NagiosConfig:   env.ConfigPath,
		QueryTimeout:   2 * time.Second,
		ArchiveEnabled: true,
		DBPath:         filepath.Join(t.TempDir(), "db", "vigil.duckdb"),
		PollInterval:   time.Minute,
		RetentionDays:  30,
		HistoryWindow:  24 * time.Hour,
		DefaultLimit:   5,
		GraphiteURL:    "http://graphite.local",
		SocketPath:     filepath.Join(t.TempDir(), "vigil.sock"),
		BackupEnabled:  true,
		BackupInterval: time.Hour,
		BackupDir:      filepath.Join(t.TempDir(), "backups"),
		BackupKeepLast: 3,
	}
	d, err := buildDaemon(cfg)
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	defer d.Close()

	if d.preflight != nil {
		t.Errorf("preflight failed: %v", d.preflight)
	}
	n, err := d.poller.PollOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("PollOnce = %d, %v; want 1 new event", n, err)
	}

	top, err := d.service.TopAlertProducers(context.Background(), 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("TopAlertProducers: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("limit 0 returned %d producers", len(top))
	}
	top, err = d.service.TopAlertProducers(context.Background(), 3, time.Time{}, time.Time{})
	if err != nil || len(top) != 1 || top[0].Host != "web1" {
		t.Errorf("TopAlertProducers = %+v, %v", top, err)
	}

	snapshots, err := backup.List(cfg.BackupDir)
	if err != nil || len(snapshots) != 1 {
		t.Errorf("startup snapshots = %v, %v; want 1", snapshots, err)
	}

	banner := renderStartupBanner(cfg, d)
	for _, want := range []string{"Livestatus", "graphite.local", "30 days", "every 1h0m0s"} {
		if !strings.Contains(banner, want) {
			t.Errorf("banner missing %q", want)
		}
	}
}

func TestBuildDaemonWithoutSocket(t *testing.T) {
	env := livestatustest.NewEnvironment(t)
	env.WriteConfig(t, "broker_module=/usr/lib/livestatus.o")

	_, err := buildDaemon(appConfig{NagiosConfig: env.ConfigPath, QueryTimeout: time.Second})
	if apperr.ReasonOf(err) != apperr.ReasonMalformedDirective {
		t.Errorf("got %v, want malformed-directive", err)
	}
}
