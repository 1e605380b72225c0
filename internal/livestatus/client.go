package livestatus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

// DefaultTimeout bounds one round trip (dial, write, read).
const DefaultTimeout = model.DefaultQueryTimeout

// Config holds tunable parameters for the client.
type Config struct {
	Timeout time.Duration
	// Now overrides the clock used to timestamp external commands.
	Now func() time.Time
}

// Client talks to a Livestatus socket. It holds no connection: every call
// dials, sends one request, reads the reply and closes.
type Client struct {
	network string
	address string
	timeout time.Duration
	now     func() time.Time
}

// NewClient creates a client for addr ("/path", "unix:/path", "tcp:host:port"
// or "host:port").
func NewClient(addr string, conf ...Config) (*Client, error) {
	network, address, err := splitAddress(addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		network: network,
		address: address,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	if len(conf) > 0 {
		if conf[0].Timeout > 0 {
			c.timeout = conf[0].Timeout
		}
		if conf[0].Now != nil {
			c.now = conf[0].Now
		}
	}
	return c, nil
}

// Address returns the address the client dials, in "network:address" form.
func (c *Client) Address() string {
	return c.network + ":" + c.address
}

// Query runs a GET on table with the given header clauses.
func (c *Client) Query(ctx context.Context, table string, clauses ...string) ([]model.ResultRow, error) {
	return c.Do(ctx, model.NewQuery(table, clauses...))
}

// Do runs q and returns the rows exactly as the daemon reported them.
func (c *Client) Do(ctx context.Context, q model.Query) ([]model.ResultRow, error) {
	req, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}

	var rows []model.ResultRow
	err = c.roundTrip(ctx, req, func(conn net.Conn) error {
		var rerr error
		rows, rerr = readReply(conn)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Command sends an external command. Livestatus does not reply to commands.
func (c *Client) Command(ctx context.Context, name string, args ...string) error {
	line, err := encodeCommand(c.now().Unix(), name, args)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, line, nil)
}

// SubmitCheckResult hands a passive check result to the daemon. An empty
// Service submits a host check result.
func (c *Client) SubmitCheckResult(ctx context.Context, r model.CheckResult) error {
	if r.Host == "" {
		return apperr.Validation("livestatus: host name is required")
	}
	if r.StatusCode < 0 || r.StatusCode > 3 {
		return apperr.Validation("livestatus: status code %d out of range 0-3", r.StatusCode)
	}

	output := r.Output
	if r.PerfData != "" {
		output += "|" + r.PerfData
	}
	code := strconv.Itoa(r.StatusCode)

	if r.Service == "" {
		return c.Command(ctx, "PROCESS_HOST_CHECK_RESULT", r.Host, code, output)
	}
	return c.Command(ctx, "PROCESS_SERVICE_CHECK_RESULT", r.Host, r.Service, code, output)
}

// Ping asks the status table for its request counter and expects one row.
func (c *Client) Ping(ctx context.Context) error {
	rows, err := c.Query(ctx, "status", "Columns: requests")
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return apperr.Protocol("livestatus: status table returned %d rows, want 1", len(rows))
	}
	return nil
}

// Events returns alert log entries (class 1) in [since, until).
func (c *Client) Events(ctx context.Context, since, until time.Time, host string) ([]model.AlertEvent, error) {
	clauses := []string{
		"Columns: time host_name service_description state state_type plugin_output",
		"Filter: class = 1",
	}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("Filter: time >= %d", since.Unix()))
	}
	if !until.IsZero() {
		clauses = append(clauses, fmt.Sprintf("Filter: time < %d", until.Unix()))
	}
	if host != "" {
		clauses = append(clauses, "Filter: host_name = "+host)
	}

	rows, err := c.Query(ctx, "log", clauses...)
	if err != nil {
		return nil, err
	}

	events := make([]model.AlertEvent, 0, len(rows))
	for _, row := range rows {
		h := row.String("host_name")
		if h == "" {
			continue
		}
		events = append(events, model.AlertEvent{
			Host:      h,
			Service:   row.String("service_description"),
			Time:      row.Time("time"),
			State:     int(row.Int("state")),
			StateType: row.String("state_type"),
			Output:    row.String("plugin_output"),
		})
	}
	return events, nil
}

// roundTrip dials, writes req, half-closes and hands the connection to read.
func (c *Client) roundTrip(ctx context.Context, req string, read func(net.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return apperr.Connection(err, "livestatus: dial %s", c.Address()).
			WithSuggestion("is nagios running with the livestatus broker module loaded?")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write([]byte(req)); err != nil {
		return c.connError(ctx, err, "write request")
	}
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		hc.CloseWrite()
	}

	if read == nil {
		return nil
	}
	if err := read(conn); err != nil {
		if ctx.Err() != nil && apperr.IsCode(err, apperr.CodeConnection) {
			return c.connError(ctx, ctx.Err(), "read reply")
		}
		return err
	}
	return nil
}

func (c *Client) connError(ctx context.Context, err error, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Connection(err, "livestatus: %s: timed out after %s", what, c.timeout)
	}
	return apperr.Connection(err, "livestatus: %s", what)
}
