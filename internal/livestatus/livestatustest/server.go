// Package livestatustest provides an in-process fake of the Livestatus
// daemon and a minimal fake Nagios install for tests.
package livestatustest

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/vigil/internal/model"
)

// Table is an in-memory Livestatus table. Cells are kept as wire text.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t *Table) index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Server is a fake Livestatus daemon listening on a Unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once

	mu       sync.Mutex
	tables   map[string]*Table
	commands []string
	requests []string
	raw      []byte
	silent   bool
}

// NewServer starts a fake daemon on a socket in a fresh temp dir and stops
// it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	// Unix socket paths are length limited; t.TempDir can be long on macOS.
	dir, err := os.MkdirTemp("", "ls")
	if err != nil {
		t.Fatalf("livestatustest: tempdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s := &Server{
		socketPath: filepath.Join(dir, "live"),
		tables:     make(map[string]*Table),
		quit:       make(chan struct{}),
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		t.Fatalf("livestatustest: listen: %v", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Stop)
	return s
}

// Path returns the socket path.
func (s *Server) Path() string { return s.socketPath }

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.listener.Close()
		s.wg.Wait()
	})
}

// SetTable replaces a table.
func (s *Server) SetTable(name string, columns []string, rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([][]string, 0, len(rows))
	for _, r := range rows {
		copied = append(copied, append([]string(nil), r...))
	}
	s.tables[name] = &Table{Columns: append([]string(nil), columns...), Rows: copied}
}

// AddEvent appends an alert (class 1) entry to the log table.
func (s *Server) AddEvent(ev model.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(ev)
}

// ReplyRaw makes every following request receive b verbatim.
func (s *Server) ReplyRaw(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append([]byte(nil), b...)
}

// Silence makes the server accept requests and never answer.
func (s *Server) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = true
}

// Commands returns the external command lines received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Requests returns the raw GET requests received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	if len(lines) == 0 {
		return
	}

	if strings.HasPrefix(lines[0], "COMMAND ") {
		s.handleCommand(lines[0])
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, strings.Join(lines, "\n"))
	raw, silent := s.raw, s.silent
	s.mu.Unlock()

	if silent {
		select {
		case <-s.quit:
		case <-time.After(10 * time.Second):
		}
		return
	}
	if raw != nil {
		conn.Write(raw)
		return
	}

	status, body := s.answer(lines)
	fmt.Fprintf(conn, "%3d %11d\n%s", status, len(body), body)
}

func (s *Server) answer(lines []string) (int, string) {
	table, ok := strings.CutPrefix(lines[0], "GET ")
	if !ok {
		return 400, "Invalid request method\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[strings.TrimSpace(table)]
	if !ok {
		return 404, fmt.Sprintf("Invalid GET request, no such table '%s'\n", table)
	}

	columns := t.Columns
	var filters []filter
	for _, line := range lines[1:] {
		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		switch name {
		case "Columns":
			columns = strings.Fields(value)
		case "Filter":
			f, err := parseFilter(value)
			if err != nil {
				return 400, err.Error() + "\n"
			}
			filters = append(filters, f)
		}
	}

	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.index(c)
		if idx[i] < 0 {
			return 400, fmt.Sprintf("Table '%s' has no column '%s'\n", table, c)
		}
	}
	for i := range filters {
		filters[i].col = t.index(filters[i].name)
		if filters[i].col < 0 {
			return 400, fmt.Sprintf("Table '%s' has no column '%s'\n", table, filters[i].name)
		}
	}

	var b strings.Builder
	b.WriteString(strings.Join(columns, "|"))
	b.WriteByte('\n')
	for _, row := range t.Rows {
		if !matchAll(filters, row) {
			continue
		}
		fields := make([]string, len(idx))
		for i, j := range idx {
			fields[i] = row[j]
		}
		b.WriteString(strings.Join(fields, "|"))
		b.WriteByte('\n')
	}
	return 200, b.String()
}

// handleCommand records the command and applies passive check results so
// that later queries see them.
func (s *Server) handleCommand(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)

	rest := strings.TrimPrefix(line, "COMMAND ")
	tsText, cmd, ok := strings.Cut(rest, " ")
	if !ok {
		return
	}
	ts, _ := strconv.ParseInt(strings.Trim(tsText, "[]"), 10, 64)
	name, argText, _ := strings.Cut(cmd, ";")

	switch name {
	case "PROCESS_SERVICE_CHECK_RESULT":
		args := strings.SplitN(argText, ";", 4)
		if len(args) != 4 {
			return
		}
		output, perf, _ := strings.Cut(args[3], "|")
		s.upsertLocked("services", map[string]string{
			"host_name": args[0], "description": args[1],
		}, map[string]string{
			"state": args[2], "plugin_output": output, "perf_data": perf, "last_check": strconv.FormatInt(ts, 10),
		})
		state, _ := strconv.Atoi(args[2])
		s.appendLogLocked(model.AlertEvent{Host: args[0], Service: args[1], Time: time.Unix(ts, 0), State: state, StateType: "HARD", Output: output})
	case "PROCESS_HOST_CHECK_RESULT":
		args := strings.SplitN(argText, ";", 3)
		if len(args) != 3 {
			return
		}
		output, perf, _ := strings.Cut(args[2], "|")
		s.upsertLocked("hosts", map[string]string{
			"name": args[0],
		}, map[string]string{
			"state": args[1], "plugin_output": output, "perf_data": perf, "last_check": strconv.FormatInt(ts, 10),
		})
		state, _ := strconv.Atoi(args[1])
		s.appendLogLocked(model.AlertEvent{Host: args[0], Time: time.Unix(ts, 0), State: state, StateType: "HARD", Output: output})
	}
}

func (s *Server) upsertLocked(table string, key, values map[string]string) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	for _, row := range t.Rows {
		if rowMatches(t, row, key) {
			setCells(t, row, values)
			return
		}
	}
	row := make([]string, len(t.Columns))
	setCells(t, row, key)
	setCells(t, row, values)
	t.Rows = append(t.Rows, row)
}

func (s *Server) appendLogLocked(ev model.AlertEvent) {
	t, ok := s.tables["log"]
	if !ok {
		t = &Table{Columns: LogColumns}
		s.tables["log"] = t
	}
	row := make([]string, len(t.Columns))
	setCells(t, row, map[string]string{
		"time":                strconv.FormatInt(ev.Time.Unix(), 10),
		"class":               "1",
		"host_name":           ev.Host,
		"service_description": ev.Service,
		"state":               strconv.Itoa(ev.State),
		"state_type":          ev.StateType,
		"plugin_output":       ev.Output,
	})
	t.Rows = append(t.Rows, row)
}

func rowMatches(t *Table, row []string, key map[string]string) bool {
	for col, want := range key {
		i := t.index(col)
		if i < 0 || row[i] != want {
			return false
		}
	}
	return true
}

func setCells(t *Table, row []string, values map[string]string) {
	for col, v := range values {
		if i := t.index(col); i >= 0 {
			row[i] = v
		}
	}
}
