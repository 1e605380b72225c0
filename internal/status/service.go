// Package status composes the live status client, the alert archive, the
// ranker and the Graphite client into the operations the console serves.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
	"github.com/tinytelemetry/vigil/internal/nagioscfg"
	"github.com/tinytelemetry/vigil/internal/ranking"
)

// LiveSource is the subset of the Livestatus client the service uses.
type LiveSource interface {
	model.StatusQuerier
	model.EventSource
	Ping(ctx context.Context) error
	SubmitCheckResult(ctx context.Context, r model.CheckResult) error
}

// GraphSource builds or fetches graph units.
type GraphSource interface {
	Graphs(host, service string, metrics []string, units []model.GraphUnit) ([]model.MetricUnit, error)
	Fetch(ctx context.Context, host, service string, metrics []string, units []model.GraphUnit) ([]model.MetricUnit, error)
}

// DefaultGraphUnits are the time ranges shown when a caller names none.
var DefaultGraphUnits = []model.GraphUnit{
	{Label: "One day", ID: "daily", From: "-1d"},
	{Label: "One week", ID: "weekly", From: "-1w"},
	{Label: "One month", ID: "monthly", From: "-30d"},
	{Label: "One year", ID: "yearly", From: "-1y"},
}

// Config wires optional collaborators and defaults.
type Config struct {
	// Archive, when set, serves history and rankings instead of the live log.
	Archive model.EventSource
	// Graphite, when set, serves graph requests.
	Graphite GraphSource
	// NagiosConfig is checked by Health when set.
	NagiosConfig string

	DefaultLimit  int
	HistoryWindow time.Duration
	Now           func() time.Time
}

// Service implements model.ReadAPI plus check submission and graphs.
type Service struct {
	live          LiveSource
	archive       model.EventSource
	graphite      GraphSource
	nagiosConfig  string
	defaultLimit  int
	historyWindow time.Duration
	now           func() time.Time
}

var _ model.ReadAPI = (*Service)(nil)

// New returns a service over live.
func New(live LiveSource, conf ...Config) *Service {
	s := &Service{
		live:          live,
		defaultLimit:  model.DefaultTopLimit,
		historyWindow: model.DefaultHistoryWindow,
		now:           time.Now,
	}
	if len(conf) > 0 {
		c := conf[0]
		s.archive = c.Archive
		s.graphite = c.Graphite
		s.nagiosConfig = c.NagiosConfig
		if c.DefaultLimit > 0 {
			s.defaultLimit = c.DefaultLimit
		}
		if c.HistoryWindow > 0 {
			s.historyWindow = c.HistoryWindow
		}
		if c.Now != nil {
			s.now = c.Now
		}
	}
	return s
}

// DefaultLimit is the ranking size used when a caller does not pass one.
func (s *Service) DefaultLimit() int { return s.defaultLimit }

// Health pings Livestatus and, when configured, validates nagios.cfg.
func (s *Service) Health(ctx context.Context) model.HealthReport {
	report := model.HealthReport{Status: model.HealthPass}

	live := model.HealthCheck{Name: "livestatus", Status: model.HealthPass, Message: "livestatus answered"}
	if err := s.live.Ping(ctx); err != nil {
		live.Status = model.HealthFail
		live.Message = err.Error()
		var e *apperr.Error
		if errors.As(err, &e) {
			live.Message = e.Message
			live.Suggestion = e.Suggestion
		}
	}
	report.Checks = append(report.Checks, live)

	if s.nagiosConfig != "" {
		report.Checks = append(report.Checks, nagioscfg.Check(s.nagiosConfig))
	}

	for _, c := range report.Checks {
		if c.Status == model.HealthFail {
			report.Status = model.HealthFail
		}
	}
	return report
}

// TopAlertProducers ranks hosts by the number of non-OK state changes in
// [since, until). Zero times default to the history window ending now.
func (s *Service) TopAlertProducers(ctx context.Context, limit int, since, until time.Time) ([]model.RankedProducer, error) {
	if limit < 0 {
		return nil, apperr.Validation("limit must not be negative, got %d", limit)
	}
	events, err := s.events(ctx, "", since, until)
	if err != nil {
		return nil, err
	}
	return ranking.TopHosts(ranking.AlertsOnly(events), limit)
}

// StateHistory returns every state change in [since, until), oldest first.
// An empty host means all hosts.
func (s *Service) StateHistory(ctx context.Context, host string, since, until time.Time) ([]model.AlertEvent, error) {
	events, err := s.events(ctx, host, since, until)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.AlertEvent{}
	}
	return events, nil
}

// Query passes q to Livestatus unchanged.
func (s *Service) Query(ctx context.Context, q model.Query) ([]model.ResultRow, error) {
	return s.live.Do(ctx, q)
}

// SubmitCheckResult hands a passive check result to the daemon.
func (s *Service) SubmitCheckResult(ctx context.Context, r model.CheckResult) error {
	return s.live.SubmitCheckResult(ctx, r)
}

// Graphs returns graph units for a service. With fetch set the datapoints
// are downloaded, otherwise only render URLs are built. No units means the
// default day/week/month/year set.
func (s *Service) Graphs(ctx context.Context, host, service string, metrics []string, units []model.GraphUnit, fetch bool) ([]model.MetricUnit, error) {
	if s.graphite == nil {
		return nil, apperr.Config(apperr.ReasonNone, "graphite is not configured", "set graphite-url to enable graphs")
	}
	if host == "" || service == "" {
		return nil, apperr.Validation("host_name and service_description are required")
	}
	if len(units) == 0 {
		units = DefaultGraphUnits
	}
	if fetch {
		return s.graphite.Fetch(ctx, host, service, metrics, units)
	}
	return s.graphite.Graphs(host, service, metrics, units)
}

// Window resolves a possibly open [since, until) to concrete times.
func (s *Service) Window(since, until time.Time) (time.Time, time.Time, error) {
	if until.IsZero() {
		until = s.now()
	}
	if since.IsZero() {
		since = until.Add(-s.historyWindow)
	}
	if !since.Before(until) {
		return time.Time{}, time.Time{}, apperr.Validation("start_time %s is not before end_time %s",
			since.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	return since, until, nil
}

func (s *Service) events(ctx context.Context, host string, since, until time.Time) ([]model.AlertEvent, error) {
	since, until, err := s.Window(since, until)
	if err != nil {
		return nil, err
	}
	src := model.EventSource(s.live)
	if s.archive != nil {
		src = s.archive
	}
	events, err := src.Events(ctx, since, until, host)
	if err != nil {
		return nil, fmt.Errorf("status: events: %w", err)
	}
	return events, nil
}
