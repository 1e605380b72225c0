package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

const (
	symbolSuccess = "✓"
	symbolFail    = "✗"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	primaryColor = lipgloss.Color("39")
)

// jsonEnvelope wraps every --json output.
type jsonEnvelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *jsonError `json:"error,omitempty"`
}

type jsonError struct {
	Code       string `json:"code"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSONSuccess(w io.Writer, data any) error {
	return writeJSONEnvelope(w, jsonEnvelope{Success: true, Data: data})
}

func writeJSONError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, jsonEnvelope{Error: toJSONError(err)})
}

func writeJSONEnvelope(w io.Writer, env jsonEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

func toJSONError(err error) *jsonError {
	var e *apperr.Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Cause != nil {
			msg += ": " + e.Cause.Error()
		}
		return &jsonError{Code: e.Code, Reason: string(e.Reason), Message: msg, Suggestion: e.Suggestion}
	}
	return &jsonError{Code: "UNKNOWN", Message: err.Error()}
}

// formatError renders err for a terminal, with the suggestion on its own line.
func formatError(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return failStyle.Render(symbolFail) + " " + err.Error()
	}
	head := e.Code
	if e.Reason != apperr.ReasonNone {
		head += "/" + string(e.Reason)
	}
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	out := fmt.Sprintf("%s %s: %s", failStyle.Render(symbolFail), head, msg)
	if e.Suggestion != "" {
		out += "\n  " + mutedStyle.Render(e.Suggestion)
	}
	return out
}

// renderTable renders a non-interactive table for CLI output.
func renderTable(titles []string, rows [][]string) string {
	if len(rows) == 0 {
		return mutedStyle.Render("(no rows)")
	}
	cols := make([]table.Column, len(titles))
	for i, title := range titles {
		width := lipgloss.Width(title)
		for _, row := range rows {
			if i < len(row) {
				width = max(width, lipgloss.Width(row[i]))
			}
		}
		cols[i] = table.Column{Title: title, Width: min(width, 60)}
	}
	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(tableRows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(primaryColor)
	s.Selected = s.Cell
	t.SetStyles(s)
	return t.View()
}

// columnOrder returns the columns named by a "Columns:" clause, or the
// sorted union of the row keys when the query has none.
func columnOrder(q model.Query, rows []model.ResultRow) []string {
	for _, clause := range q.Filter {
		if rest, ok := strings.CutPrefix(clause, "Columns:"); ok {
			if cols := strings.Fields(rest); len(cols) > 0 {
				return cols
			}
		}
	}
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func producerRows(producers []model.RankedProducer) [][]string {
	rows := make([][]string, 0, len(producers))
	for i, p := range producers {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), p.EntityName, fmt.Sprintf("%d", p.Count)})
	}
	return rows
}
