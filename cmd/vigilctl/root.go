package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/vigil/internal/graphite"
	"github.com/tinytelemetry/vigil/internal/livestatus"
	"github.com/tinytelemetry/vigil/internal/model"
	"github.com/tinytelemetry/vigil/internal/nagioscfg"
	"github.com/tinytelemetry/vigil/internal/status"
)

// settings is the subset of the server config vigilctl needs.
type settings struct {
	LivestatusAddress string        `mapstructure:"livestatus-address"`
	NagiosConfig      string        `mapstructure:"nagios-config"`
	QueryTimeout      time.Duration `mapstructure:"query-timeout"`
	HistoryWindow     time.Duration `mapstructure:"history-window"`
	DefaultLimit      int           `mapstructure:"default-limit"`
	GraphiteURL       string        `mapstructure:"graphite-url"`
	GraphitePrefix    string        `mapstructure:"graphite-prefix"`
}

// ctl carries the state shared by every subcommand of one invocation.
type ctl struct {
	v          *viper.Viper
	out        io.Writer
	configPath string
	jsonOut    bool
	settings   settings
}

func newRootCmd(out io.Writer) (*cobra.Command, *ctl) {
	c := &ctl{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "vigilctl",
		Short: "Inspect and drive a Nagios install through Livestatus",
		Long: `vigilctl talks to the Livestatus socket of a Nagios install directly.

It validates the broker_module wiring in nagios.cfg, runs raw Livestatus
queries, ranks the top alert producers, submits passive check results and
builds Graphite render URLs. It reads the same config file as the vigil
server (~/.config/vigil/config.yml) and the same VIGIL_* environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default is $HOME/.config/vigil/config.yml)")
	flags.BoolVar(&c.jsonOut, "json", false, "output in JSON format")
	flags.String("livestatus", "", "livestatus address: /path, unix:/path or tcp:host:port (default from nagios.cfg)")
	flags.String("nagios-config", nagioscfg.DefaultPath, "path to nagios.cfg")
	flags.Duration("timeout", model.DefaultQueryTimeout, "livestatus round-trip timeout")
	flags.String("graphite-url", "", "graphite base URL")
	flags.String("graphite-prefix", "", "graphite metric prefix")

	c.v.BindPFlag("livestatus-address", flags.Lookup("livestatus"))
	c.v.BindPFlag("nagios-config", flags.Lookup("nagios-config"))
	c.v.BindPFlag("query-timeout", flags.Lookup("timeout"))
	c.v.BindPFlag("graphite-url", flags.Lookup("graphite-url"))
	c.v.BindPFlag("graphite-prefix", flags.Lookup("graphite-prefix"))

	root.AddCommand(
		newCheckConfigCmd(c),
		newQueryCmd(c),
		newTopCmd(c),
		newSubmitCmd(c),
		newGraphURLCmd(c),
		newVersionCmd(c),
	)
	return root, c
}

// load resolves flags, environment and config file into c.settings.
func (c *ctl) load() error {
	v := c.v
	v.SetEnvPrefix("VIGIL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetDefault("history-window", model.DefaultHistoryWindow)
	v.SetDefault("default-limit", model.DefaultTopLimit)

	if c.configPath != "" {
		v.SetConfigFile(c.configPath)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".config", "vigil", "config.yml"))
	}
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.Unmarshal(&c.settings); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if c.settings.QueryTimeout <= 0 {
		c.settings.QueryTimeout = model.DefaultQueryTimeout
	}
	return nil
}

func (c *ctl) live() (*livestatus.Client, error) {
	addr, err := nagioscfg.ResolveAddress(c.settings.LivestatusAddress, c.settings.NagiosConfig)
	if err != nil {
		return nil, err
	}
	return livestatus.NewClient(addr, livestatus.Config{Timeout: c.settings.QueryTimeout})
}

// service builds a status service reading straight from Livestatus.
func (c *ctl) service() (*status.Service, error) {
	live, err := c.live()
	if err != nil {
		return nil, err
	}
	return status.New(live, status.Config{
		DefaultLimit:  c.settings.DefaultLimit,
		HistoryWindow: c.settings.HistoryWindow,
	}), nil
}

func (c *ctl) graphite() (*graphite.Client, error) {
	return graphite.NewClient(graphite.Config{
		URL:    c.settings.GraphiteURL,
		Prefix: c.settings.GraphitePrefix,
	})
}
