package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/vigil/internal/model"
	"github.com/tinytelemetry/vigil/internal/nagioscfg"
	"github.com/tinytelemetry/vigil/internal/socketrpc"
)

const (
	defaultBindHost      = "127.0.0.1"
	defaultAPIPort       = 8080
	defaultQueryTimeout  = model.DefaultQueryTimeout
	defaultPollInterval  = time.Minute
	defaultRetentionDays = 90 // 0 = disabled
	defaultHistoryWindow = model.DefaultHistoryWindow
	defaultTopLimit      = model.DefaultTopLimit
	defaultGraphiteRPS   = 10
	defaultBackupEvery   = 6 * time.Hour
	defaultBackupKeep    = 24
)

// appConfig is internal runtime configuration.
type appConfig struct {
	LivestatusAddress string        `mapstructure:"livestatus-address"`
	NagiosConfig      string        `mapstructure:"nagios-config"`
	QueryTimeout      time.Duration `mapstructure:"query-timeout"`
	APIEnabled        bool          `mapstructure:"api-enabled"`
	APIPort           int           `mapstructure:"api-port"`
	APIAddr           string        `mapstructure:"api-addr"`
	SocketPath        string        `mapstructure:"socket-path"`
	ArchiveEnabled    bool          `mapstructure:"archive-enabled"`
	DBPath            string        `mapstructure:"db-path"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`
	RetentionDays     int           `mapstructure:"retention-days"`
	HistoryWindow     time.Duration `mapstructure:"history-window"`
	DefaultLimit      int           `mapstructure:"default-limit"`
	GraphiteURL       string        `mapstructure:"graphite-url"`
	GraphitePrefix    string        `mapstructure:"graphite-prefix"`
	GraphiteRPS       int           `mapstructure:"graphite-requests-per-second"`
	BackupEnabled     bool          `mapstructure:"backup-enabled"`
	BackupInterval    time.Duration `mapstructure:"backup-interval"`
	BackupDir         string        `mapstructure:"backup-dir"`
	BackupKeepLast    int           `mapstructure:"backup-keep-last"`
	BackupBucketURL   string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint  string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region    string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey string        `mapstructure:"backup-s3-secret-key"`
	BackupS3Session   string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL    bool          `mapstructure:"backup-s3-use-ssl"`
	ConfigPath        string        `mapstructure:"-"`
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("VIGIL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("livestatus-address", "")
	v.SetDefault("nagios-config", nagioscfg.DefaultPath)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("archive-enabled", true)
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "vigil", "vigil.duckdb"))
	v.SetDefault("poll-interval", defaultPollInterval)
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("history-window", defaultHistoryWindow)
	v.SetDefault("default-limit", defaultTopLimit)
	v.SetDefault("graphite-url", "")
	v.SetDefault("graphite-prefix", "")
	v.SetDefault("graphite-requests-per-second", defaultGraphiteRPS)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupEvery)
	v.SetDefault("backup-dir", filepath.Join(home, ".local", "share", "vigil", "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeep)
	v.SetDefault("backup-bucket-url", "")
	v.SetDefault("backup-s3-endpoint", "")
	v.SetDefault("backup-s3-region", "")
	v.SetDefault("backup-s3-access-key", "")
	v.SetDefault("backup-s3-secret-key", "")
	v.SetDefault("backup-s3-session-token", "")
	v.SetDefault("backup-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "vigil", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.QueryTimeout <= 0 {
		return cfg, fmt.Errorf("invalid query-timeout: %s", cfg.QueryTimeout)
	}
	if cfg.PollInterval <= 0 {
		return cfg, fmt.Errorf("invalid poll-interval: %s", cfg.PollInterval)
	}
	if cfg.RetentionDays < 0 {
		return cfg, fmt.Errorf("invalid retention-days: %d", cfg.RetentionDays)
	}
	if cfg.DefaultLimit <= 0 {
		return cfg, fmt.Errorf("invalid default-limit: %d", cfg.DefaultLimit)
	}

	if cfg.BackupEnabled && !cfg.ArchiveEnabled {
		return cfg, fmt.Errorf("backup-enabled requires archive-enabled")
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.BackupDir = expandHome(home, cfg.BackupDir)
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// livestatusAddress returns the configured address, or the socket named by
// the broker_module line of nagios.cfg.
func livestatusAddress(cfg appConfig) (string, error) {
	return nagioscfg.ResolveAddress(cfg.LivestatusAddress, cfg.NagiosConfig)
}
