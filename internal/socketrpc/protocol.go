package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.ReadAPI over a Unix domain socket,
// one newline-terminated JSON object per request and per response.
//
//   Method              Params                                      Result
//   ─────────────────   ─────────────────────────────────────────   ──────────────────────
//   Health              (none)                                      HealthReport
//   TopAlertProducers   {Limit: int, Since: time, Until: time}       []RankedProducer
//   StateHistory        {Host: string, Since: time, Until: time}     []AlertEvent
//   Query               {Table: string, Filter: []string}            []ResultRow
//
// Zero Since/Until select the server's default window.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error; data carries the vigil error code and reason

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries a structured application error across the socket.
type ErrorData struct {
	Code       string        `json:"code"`
	Reason     apperr.Reason `json:"reason,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Err converts an application error back into an *apperr.Error.
func (e *RPCError) Err() error {
	if e.Data == nil || e.Data.Code == "" {
		return e
	}
	return &apperr.Error{Code: e.Data.Code, Reason: e.Data.Reason, Message: e.Message, Suggestion: e.Data.Suggestion}
}

type windowParams struct {
	Limit int
	Host  string
	Since time.Time
	Until time.Time
}

type queryParams struct {
	Table  string
	Filter []string
}

var _ model.ReadAPI = (*Client)(nil)

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/vigil/vigil.sock, falling back to
// ~/.local/state/vigil/vigil.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "vigil", "vigil.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/vigil.sock"
	}
	return filepath.Join(home, ".local", "state", "vigil", "vigil.sock")
}
