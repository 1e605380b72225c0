package livestatus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

// Livestatus wire protocol
//
// Request (one per connection):
//
//	GET <table>\n
//	<Header>: <value>\n      caller clauses (Columns, Filter, Stats, Limit, ...)
//	ColumnHeaders: on\n      appended by the client
//	Separators: 10 124 44 59\n
//	ResponseHeader: fixed16\n
//	\n
//
// Reply: a 16 byte header "%3d %11d\n" (status code, body length) followed by
// the body. With the separators above, rows are newline separated, fields are
// pipe separated and the first row carries the column names.
const (
	headerLen = 16

	// maxReplySize bounds a single reply body (64 MB).
	maxReplySize = 64 * 1024 * 1024

	framingHeaders = "ColumnHeaders: on\nSeparators: 10 124 44 59\nResponseHeader: fixed16\n"
)

// reservedHeaders are set by the client and may not appear in caller clauses.
var reservedHeaders = map[string]bool{
	"columnheaders":  true,
	"separators":     true,
	"responseheader": true,
	"outputformat":   true,
	"keepalive":      true,
}

var (
	tableNamePattern = regexp.MustCompile(`^[a-z_]+$`)
	intPattern       = regexp.MustCompile(`^-?[0-9]+$`)
	floatPattern     = regexp.MustCompile(`^-?[0-9]+\.[0-9]+$`)
)

// encodeQuery renders q as a request. Caller errors are VALIDATION errors.
func encodeQuery(q model.Query) (string, error) {
	if !tableNamePattern.MatchString(q.Table) {
		return "", apperr.Validation("livestatus: invalid table name %q", q.Table)
	}

	var b strings.Builder
	b.WriteString("GET ")
	b.WriteString(q.Table)
	b.WriteByte('\n')
	for _, clause := range q.Filter {
		if strings.ContainsAny(clause, "\r\n") {
			return "", apperr.Validation("livestatus: clause %q contains a line break", clause)
		}
		name, _, ok := strings.Cut(clause, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return "", apperr.Validation("livestatus: clause %q is not a header line", clause)
		}
		if reservedHeaders[strings.ToLower(strings.TrimSpace(name))] {
			return "", apperr.Validation("livestatus: header %q is set by the client", strings.TrimSpace(name))
		}
		b.WriteString(clause)
		b.WriteByte('\n')
	}
	b.WriteString(framingHeaders)
	b.WriteByte('\n')
	return b.String(), nil
}

// encodeCommand renders an external command line.
func encodeCommand(unix int64, name string, args []string) (string, error) {
	if name == "" || strings.ContainsAny(name, " ;\r\n") {
		return "", apperr.Validation("livestatus: invalid command name %q", name)
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if strings.ContainsAny(a, "\r\n") {
			return "", apperr.Validation("livestatus: command argument %q contains a line break", a)
		}
		parts = append(parts, a)
	}
	return fmt.Sprintf("COMMAND [%d] %s\n\n", unix, strings.Join(parts, ";")), nil
}

// readReply reads one fixed16 reply from r and decodes its table.
func readReply(r io.Reader) ([]model.ResultRow, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, readError(err, "response header")
	}

	status, length, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, readError(err, "response body")
	}

	if status != 200 {
		return nil, apperr.Protocol("livestatus: status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return parseTable(body)
}

func readError(err error, what string) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Connection(err, "livestatus: read %s", what)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Protocol("livestatus: connection closed before complete %s", what)
	}
	return apperr.Connection(err, "livestatus: read %s", what)
}

func parseHeader(header []byte) (status int, length int, err error) {
	if len(header) != headerLen || header[3] != ' ' || header[headerLen-1] != '\n' {
		return 0, 0, apperr.Protocol("livestatus: malformed response header %q", header)
	}
	status, err = strconv.Atoi(strings.TrimSpace(string(header[:3])))
	if err != nil {
		return 0, 0, apperr.Protocol("livestatus: malformed status code %q", header[:3])
	}
	length, err = strconv.Atoi(strings.TrimSpace(string(header[4 : headerLen-1])))
	if err != nil || length < 0 {
		return 0, 0, apperr.Protocol("livestatus: malformed body length %q", header[4:headerLen-1])
	}
	if length > maxReplySize {
		return 0, 0, apperr.Protocol("livestatus: body length %d exceeds limit", length)
	}
	return status, length, nil
}

// parseTable decodes a header row followed by data rows.
func parseTable(body []byte) ([]model.ResultRow, error) {
	text := strings.TrimRight(string(body), "\n")
	if text == "" {
		return nil, apperr.Protocol("livestatus: reply has no column header row")
	}

	lines := strings.Split(text, "\n")
	columns := strings.Split(lines[0], "|")
	for _, c := range columns {
		if c == "" {
			return nil, apperr.Protocol("livestatus: empty column name in header %q", lines[0])
		}
	}

	rows := make([]model.ResultRow, 0, len(lines)-1)
	for i, line := range lines[1:] {
		fields := strings.Split(line, "|")
		if len(fields) != len(columns) {
			return nil, apperr.Protocol("livestatus: row %d has %d fields, want %d", i+1, len(fields), len(columns))
		}
		row := make(model.ResultRow, len(columns))
		for j, col := range columns {
			row[col] = decodeValue(fields[j])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeValue types a numeric cell only when it formats back to the same
// text, so names like "007" and outputs like "1.50" stay strings.
func decodeValue(field string) any {
	if intPattern.MatchString(field) {
		if n, err := strconv.ParseInt(field, 10, 64); err == nil && strconv.FormatInt(n, 10) == field {
			return n
		}
	}
	if floatPattern.MatchString(field) {
		if f, err := strconv.ParseFloat(field, 64); err == nil && strconv.FormatFloat(f, 'f', -1, 64) == field {
			return f
		}
	}
	return field
}

// splitAddress resolves "unix:/p", "tcp:h:p", "/p" and "h:p" forms.
func splitAddress(addr string) (network, address string, err error) {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		return "", "", apperr.Validation("livestatus: empty address")
	case strings.HasPrefix(addr, "unix:"):
		return "unix", strings.TrimPrefix(addr, "unix:"), nil
	case strings.HasPrefix(addr, "tcp:"):
		return "tcp", strings.TrimPrefix(addr, "tcp:"), nil
	case strings.HasPrefix(addr, "/"), strings.HasPrefix(addr, "."):
		return "unix", addr, nil
	case strings.Contains(addr, ":"):
		return "tcp", addr, nil
	default:
		return "unix", addr, nil
	}
}
