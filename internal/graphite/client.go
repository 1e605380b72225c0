package graphite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

// DefaultTimeout bounds one render request.
const DefaultTimeout = 10 * time.Second

// maxResponseSize bounds one JSON render reply (32 MB).
const maxResponseSize = 32 * 1024 * 1024

// Config holds the Graphite client settings.
type Config struct {
	URL    string
	Prefix string
	Width  int
	Height int

	Timeout time.Duration
	// RequestsPerSecond limits render requests. Zero disables limiting.
	RequestsPerSecond int

	HTTPClient *http.Client
}

// Client fetches render data from one Graphite server.
type Client struct {
	base    string
	prefix  string
	width   int
	height  int
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient validates conf and returns a client.
func NewClient(conf Config) (*Client, error) {
	u, err := url.Parse(conf.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperr.Validation("graphite: invalid base URL %q", conf.URL)
	}

	c := &Client{
		base:   strings.TrimRight(conf.URL, "/"),
		prefix: conf.Prefix,
		width:  conf.Width,
		height: conf.Height,
		http:   conf.HTTPClient,
	}
	if c.width <= 0 {
		c.width = DefaultWidth
	}
	if c.height <= 0 {
		c.height = DefaultHeight
	}
	if c.http == nil {
		timeout := conf.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if conf.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(conf.RequestsPerSecond), conf.RequestsPerSecond*2)
	}
	return c, nil
}

// Base returns the server URL without a trailing slash.
func (c *Client) Base() string { return c.base }

// RenderURL is BuildURL with the client's prefix and size.
func (c *Client) RenderURL(host, service, metric, from string) string {
	return renderURL(c.base, Target(c.prefix, host, service, metric), host, service, metric, from, c.width, c.height)
}

// Graphs returns one unit per requested time range with a render URL for
// every metric. It makes no requests.
func (c *Client) Graphs(host, service string, metrics []string, units []model.GraphUnit) ([]model.MetricUnit, error) {
	names, err := uniqueMetrics(metrics)
	if err != nil {
		return nil, err
	}
	out := make([]model.MetricUnit, 0, len(units))
	for _, u := range units {
		out = append(out, c.newUnit(host, service, names, u))
	}
	return out, nil
}

// Fetch issues one JSON render request per unit covering all metrics and
// maps the returned series back onto the metric names. Every unit carries
// every requested metric; series Graphite did not return are left empty.
func (c *Client) Fetch(ctx context.Context, host, service string, metrics []string, units []model.GraphUnit) ([]model.MetricUnit, error) {
	names, err := uniqueMetrics(metrics)
	if err != nil {
		return nil, err
	}

	out := make([]model.MetricUnit, 0, len(units))
	for _, u := range units {
		unit := c.newUnit(host, service, names, u)

		// Distinct names can share a target once made compliant.
		byTarget := make(map[string][]string, len(names))
		targets := make([]string, 0, len(names))
		for _, name := range names {
			t := unit.Metrics[name].Target
			if _, ok := byTarget[t]; !ok {
				targets = append(targets, t)
			}
			byTarget[t] = append(byTarget[t], name)
		}

		series, err := c.render(ctx, u.From, targets)
		if err != nil {
			return nil, err
		}
		for _, s := range series {
			shared, ok := byTarget[s.Target]
			if !ok {
				log.Printf("graphite: ignoring unrequested series %q", s.Target)
				continue
			}
			for _, name := range shared {
				m := unit.Metrics[name]
				m.Datapoints = s.points()
				unit.Metrics[name] = m
			}
		}
		out = append(out, unit)
	}
	return out, nil
}

// Fetch is Client.Fetch against base with default settings.
func Fetch(ctx context.Context, base, host, service string, metrics []string, units []model.GraphUnit) ([]model.MetricUnit, error) {
	c, err := NewClient(Config{URL: base})
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, host, service, metrics, units)
}

func (c *Client) newUnit(host, service string, names []string, u model.GraphUnit) model.MetricUnit {
	unit := model.MetricUnit{
		Label:   u.Label,
		ID:      u.ID,
		From:    u.From,
		Metrics: make(map[string]model.MetricSeries, len(names)),
	}
	for _, name := range names {
		unit.Metrics[name] = model.MetricSeries{
			Name:   name,
			Target: Target(c.prefix, host, service, name),
			URL:    c.RenderURL(host, service, name, u.From),
		}
	}
	return unit
}

type renderSeries struct {
	Target     string        `json:"target"`
	Datapoints [][2]*float64 `json:"datapoints"`
}

func (s renderSeries) points() []model.Datapoint {
	out := make([]model.Datapoint, 0, len(s.Datapoints))
	for _, dp := range s.Datapoints {
		if dp[1] == nil {
			continue
		}
		out = append(out, model.Datapoint{Value: dp[0], Timestamp: int64(*dp[1])})
	}
	return out
}

func (c *Client) render(ctx context.Context, from string, targets []string) ([]renderSeries, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Connection(err, "graphite: rate limiter")
		}
	}

	v := url.Values{}
	v.Set("format", "json")
	v.Set("from", from)
	for _, t := range targets {
		v.Add("target", t)
	}
	endpoint := renderEndpoint(c.base) + "?" + v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("graphite: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Connection(err, "graphite: GET %s", c.base).
			WithSuggestion("check the graphite URL and that the server is reachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apperr.Connection(err, "graphite: read reply")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Protocol("graphite: render returned %d: %s", resp.StatusCode, firstLine(body))
	}

	var series []renderSeries
	if err := json.Unmarshal(body, &series); err != nil {
		return nil, apperr.Protocol("graphite: decode render reply: %v", err)
	}
	return series, nil
}

func uniqueMetrics(metrics []string) ([]string, error) {
	seen := make(map[string]bool, len(metrics))
	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if m == "" || seen[m] {
			continue
		}
		if strings.TrimSpace(m) != m {
			return nil, apperr.Validation("graphite: metric name %q has surrounding whitespace", m)
		}
		seen[m] = true
		names = append(names, m)
	}
	if len(names) == 0 {
		return nil, apperr.Validation("graphite: at least one metric is required")
	}
	return names, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
