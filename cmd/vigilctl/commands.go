package main

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
	"github.com/tinytelemetry/vigil/internal/nagioscfg"
)

func newCheckConfigCmd(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the Livestatus broker_module line in nagios.cfg",
		Long: `Validate that nagios.cfg loads the Livestatus broker module and that both
the module file and the socket it names exist.

The first broker_module line mentioning livestatus is authoritative.

Examples:
  vigilctl check-config
  vigilctl check-config --nagios-config /usr/local/nagios/etc/nagios.cfg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.settings.NagiosConfig
			if err := nagioscfg.Validate(path); err != nil {
				return err
			}
			hc := nagioscfg.HealthOf(path, nil)
			if c.jsonOut {
				return writeJSONSuccess(c.out, hc)
			}
			fmt.Fprintf(c.out, "%s %s\n", successStyle.Render(symbolSuccess), hc.Message)
			return nil
		},
	}
}

func newQueryCmd(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "query TABLE [CLAUSE...]",
		Short: "Run a raw Livestatus query",
		Long: `Run a Livestatus GET query. Each argument after the table is one header
clause. Output framing headers are added by vigilctl and may not be passed.

Examples:
  vigilctl query hosts "Columns: name state"
  vigilctl query services "Columns: host_name description state" "Filter: state > 0"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := c.live()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), c.settings.QueryTimeout)
			defer cancel()

			q := model.NewQuery(args[0], args[1:]...)
			rows, err := live.Do(ctx, q)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSONSuccess(c.out, rows)
			}
			cols := columnOrder(q, rows)
			cells := make([][]string, 0, len(rows))
			for _, row := range rows {
				line := make([]string, len(cols))
				for i, col := range cols {
					line[i] = row.String(col)
				}
				cells = append(cells, line)
			}
			fmt.Fprintln(c.out, renderTable(cols, cells))
			return nil
		},
	}
}

func newTopCmd(c *ctl) *cobra.Command {
	var limit int
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank hosts by alert count",
		Long: `Rank hosts by the number of non-OK state changes in the Livestatus log.

Examples:
  vigilctl top
  vigilctl top --limit 10 --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = svc.DefaultLimit()
			}
			var since time.Time
			if window > 0 {
				since = time.Now().Add(-window)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), c.settings.QueryTimeout)
			defer cancel()

			producers, err := svc.TopAlertProducers(ctx, limit, since, time.Time{})
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSONSuccess(c.out, producers)
			}
			fmt.Fprintln(c.out, renderTable([]string{"#", "Host / Service", "Alerts"}, producerRows(producers)))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", model.DefaultTopLimit, "number of producers to show")
	cmd.Flags().DurationVar(&window, "since", 0, "look back this far (default: the history window)")
	return cmd
}

func newSubmitCmd(c *ctl) *cobra.Command {
	var code int
	var output, perfData string

	cmd := &cobra.Command{
		Use:   "submit HOST [SERVICE]",
		Short: "Submit a passive check result",
		Long: `Submit a passive check result for a host, or for a service when SERVICE
is given. Status codes are 0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN.

Examples:
  vigilctl submit web1 HTTP --status 2 --output "connection refused"
  vigilctl submit web1 --status 0 --output "PING OK" --perfdata "rta=1.2ms"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := c.live()
			if err != nil {
				return err
			}
			r := model.CheckResult{Host: args[0], StatusCode: code, Output: output, PerfData: perfData}
			if len(args) == 2 {
				r.Service = args[1]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), c.settings.QueryTimeout)
			defer cancel()
			if err := live.SubmitCheckResult(ctx, r); err != nil {
				return err
			}
			if c.jsonOut {
				return writeJSONSuccess(c.out, map[string]string{"status": "submitted"})
			}
			target := r.Host
			if r.Service != "" {
				target += "/" + r.Service
			}
			fmt.Fprintf(c.out, "%s submitted %s result for %s\n", successStyle.Render(symbolSuccess), statusLabel(code), target)
			return nil
		},
	}
	cmd.Flags().IntVar(&code, "status", 0, "status code 0-3")
	cmd.Flags().StringVar(&output, "output", "", "plugin output")
	cmd.Flags().StringVar(&perfData, "perfdata", "", "performance data")
	return cmd
}

func statusLabel(code int) string {
	switch code {
	case 0:
		return "OK"
	case 1:
		return "WARNING"
	case 2:
		return "CRITICAL"
	case 3:
		return "UNKNOWN"
	}
	return strconv.Itoa(code)
}

func newGraphURLCmd(c *ctl) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "graph-url HOST SERVICE METRIC [METRIC...]",
		Short: "Print Graphite render URLs for service metrics",
		Long: `Print one Graphite PNG render URL per metric. Host, service and metric
names are made Graphite-safe in the target; the title keeps the raw names.

Examples:
  vigilctl graph-url web1 HTTP time size --graphite-url http://graphite.local
  vigilctl graph-url web1 Ping rta --from -1w`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.settings.GraphiteURL == "" {
				return apperr.Config(apperr.ReasonNone, "graphite is not configured", "pass --graphite-url or set graphite-url in the config file")
			}
			g, err := c.graphite()
			if err != nil {
				return err
			}
			host, service, metrics := args[0], args[1], args[2:]
			urls := make(map[string]string, len(metrics))
			for _, m := range metrics {
				urls[m] = g.RenderURL(host, service, m, from)
			}
			if c.jsonOut {
				return writeJSONSuccess(c.out, urls)
			}
			for _, m := range metrics {
				fmt.Fprintf(c.out, "%s\t%s\n", m, urls[m])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "-1d", "graphite relative start, e.g. -1d, -1w, -30d")
	return cmd
}

func newVersionCmd(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "vigilctl %s\n", version)
			fmt.Fprintf(c.out, "commit: %s\n", commit)
			fmt.Fprintf(c.out, "built: %s\n", date)
			fmt.Fprintf(c.out, "go: %s\n", runtime.Version())
		},
	}
}
