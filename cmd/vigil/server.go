package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/vigil/internal/archive"
	"github.com/tinytelemetry/vigil/internal/backup"
	"github.com/tinytelemetry/vigil/internal/graphite"
	"github.com/tinytelemetry/vigil/internal/httpserver"
	"github.com/tinytelemetry/vigil/internal/livestatus"
	"github.com/tinytelemetry/vigil/internal/nagioscfg"
	"github.com/tinytelemetry/vigil/internal/socketrpc"
	"github.com/tinytelemetry/vigil/internal/status"
)

// daemon holds the wired components of one server process.
type daemon struct {
	live      *livestatus.Client
	store     *archive.Store
	poller    *archive.Poller
	retention *archive.RetentionCleaner
	backups   *backup.Manager
	service   *status.Service
	preflight error
}

func (d *daemon) Close() {
	if d.backups != nil {
		d.backups.Stop()
	}
	if d.retention != nil {
		d.retention.Stop()
	}
	if d.store != nil {
		d.store.Close()
	}
}

// buildDaemon wires the Livestatus client, the archive and the Graphite
// client into a status service. It does not start any listener.
func buildDaemon(cfg appConfig) (*daemon, error) {
	d := &daemon{}

	// A broken nagios.cfg is reported, not fatal: the address may be configured directly.
	if cfg.NagiosConfig != "" {
		d.preflight = nagioscfg.Validate(cfg.NagiosConfig)
		if d.preflight != nil {
			log.Printf("vigil: config check: %v", d.preflight)
		}
	}

	addr, err := livestatusAddress(cfg)
	if err != nil {
		return nil, fmt.Errorf("locating livestatus socket: %w", err)
	}
	d.live, err = livestatus.NewClient(addr, livestatus.Config{Timeout: cfg.QueryTimeout})
	if err != nil {
		return nil, err
	}

	conf := status.Config{
		NagiosConfig:  cfg.NagiosConfig,
		DefaultLimit:  cfg.DefaultLimit,
		HistoryWindow: cfg.HistoryWindow,
	}

	if cfg.GraphiteURL != "" {
		g, err := graphite.NewClient(graphite.Config{
			URL:               cfg.GraphiteURL,
			Prefix:            cfg.GraphitePrefix,
			RequestsPerSecond: cfg.GraphiteRPS,
		})
		if err != nil {
			return nil, err
		}
		conf.Graphite = g
	}

	if cfg.ArchiveEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
		d.store, err = archive.NewStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		d.retention = archive.NewRetentionCleaner(d.store, archive.RetentionConfig{
			RetentionDays: cfg.RetentionDays,
		})
		d.poller = archive.NewPoller(d.live, d.store, archive.PollerConfig{
			Interval: cfg.PollInterval,
			Backfill: cfg.HistoryWindow,
		})
		conf.Archive = d.store

		d.backups, err = backup.NewManager(d.store, backup.Config{
			Enabled:        cfg.BackupEnabled,
			Interval:       cfg.BackupInterval,
			Dir:            cfg.BackupDir,
			KeepLast:       cfg.BackupKeepLast,
			BucketURL:      cfg.BackupBucketURL,
			S3Endpoint:     cfg.BackupS3Endpoint,
			S3Region:       cfg.BackupS3Region,
			S3AccessKey:    cfg.BackupS3AccessKey,
			S3SecretKey:    cfg.BackupS3SecretKey,
			S3SessionToken: cfg.BackupS3Session,
			S3UseSSL:       cfg.BackupS3UseSSL,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
	}

	d.service = status.New(d.live, conf)
	return d, nil
}

// runServer starts the archive poller, the HTTP API and the socket RPC
// server, and blocks until SIGINT or SIGTERM.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	d, err := buildDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, d.service)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Socket RPC server for vigil-top.
	sockServer := socketrpc.NewServer(cfg.SocketPath, d.service)
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg, d)

	g, gctx := errgroup.WithContext(ctx)

	if d.poller != nil {
		g.Go(func() error {
			return d.poller.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	signal.Stop(sigCh)
	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "vigil")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(filepath.Join(logDir, "vigil.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, d *daemon) {
	fmt.Println(renderStartupBanner(cfg, d))
}

func renderStartupBanner(cfg appConfig, d *daemon) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	fail := red.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╦╦╔═╗╦╦
    ╚╗╔╝║║ ╦║║
     ╚╝ ╩╚═╝╩╩═╝`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Monitoring"), "")
	lines = append(lines, fmt.Sprintf("    %s  Livestatus     %s", check, cyan.Render(d.live.Address())))
	switch {
	case cfg.NagiosConfig == "":
		lines = append(lines, fmt.Sprintf("    %s  Config Check   %s", dot, dim.Render("disabled")))
	case d.preflight != nil:
		lines = append(lines, fmt.Sprintf("    %s  Config Check   %s", fail, red.Render(d.preflight.Error())))
	default:
		lines = append(lines, fmt.Sprintf("    %s  Config Check   %s", check, dim.Render(shortenPath(cfg.NagiosConfig))))
	}
	if cfg.GraphiteURL != "" {
		lines = append(lines, fmt.Sprintf("    %s  Graphite       %s", check, cyan.Render(cfg.GraphiteURL)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Graphite       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Archive"), "")
	if d.store != nil {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dim.Render(shortenPath(d.store.Path()))))
		lines = append(lines, fmt.Sprintf("    %s  Poll Interval  %s", check, dim.Render(cfg.PollInterval.String())))
		if cfg.RetentionDays > 0 {
			lines = append(lines, fmt.Sprintf("    %s  Retention      %s", check, dim.Render(fmt.Sprintf("%d days", cfg.RetentionDays))))
		} else {
			lines = append(lines, fmt.Sprintf("    %s  Retention      %s", dot, dim.Render("disabled")))
		}
		if d.backups != nil {
			target := shortenPath(cfg.BackupDir)
			if cfg.BackupBucketURL != "" {
				target += " + " + cfg.BackupBucketURL
			}
			lines = append(lines, fmt.Sprintf("    %s  Backups        %s", check, dim.Render(fmt.Sprintf("every %s to %s", cfg.BackupInterval, target))))
		} else {
			lines = append(lines, fmt.Sprintf("    %s  Backups        %s", dot, dim.Render("disabled")))
		}
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", dot, dim.Render("disabled (live log only)")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
