package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/vigil/internal/model"
)

// callTimeout bounds a call whose context has no deadline.
const callTimeout = 30 * time.Second

// Client implements model.ReadAPI over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(ctx context.Context, method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(callTimeout)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error.Err()
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// Health never fails: a transport error becomes a failing report.
func (c *Client) Health(ctx context.Context) model.HealthReport {
	var result model.HealthReport
	if err := c.call(ctx, "Health", nil, &result); err != nil {
		return model.HealthReport{
			Status: model.HealthFail,
			Checks: []model.HealthCheck{{Name: "vigil", Status: model.HealthFail, Message: err.Error()}},
		}
	}
	return result
}

func (c *Client) TopAlertProducers(ctx context.Context, limit int, since, until time.Time) ([]model.RankedProducer, error) {
	var result []model.RankedProducer
	err := c.call(ctx, "TopAlertProducers", windowParams{Limit: limit, Since: since, Until: until}, &result)
	return result, err
}

func (c *Client) StateHistory(ctx context.Context, host string, since, until time.Time) ([]model.AlertEvent, error) {
	var result []model.AlertEvent
	err := c.call(ctx, "StateHistory", windowParams{Host: host, Since: since, Until: until}, &result)
	return result, err
}

func (c *Client) Query(ctx context.Context, q model.Query) ([]model.ResultRow, error) {
	var result []model.ResultRow
	err := c.call(ctx, "Query", queryParams{Table: q.Table, Filter: q.Filter}, &result)
	return result, err
}
