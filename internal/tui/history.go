package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/vigil/internal/model"
)

type historyLoadedMsg struct {
	host   string
	events []model.AlertEvent
	err    error
}

// HistoryPage lists the state changes of one host, newest first.
type HistoryPage struct {
	api  model.ReadAPI
	keys KeyMap

	host    string
	events  []model.AlertEvent
	table   table.Model
	loading bool
	err     string
}

// NewHistoryPage returns the page opened from the dashboard with a host.
func NewHistoryPage(api model.ReadAPI) *HistoryPage {
	return &HistoryPage{
		api:  api,
		keys: DefaultKeyMap(),
		table: table.New(
			table.WithColumns(historyColumns(80)),
			table.WithFocused(true),
			table.WithHeight(15),
		),
	}
}

func historyColumns(width int) []table.Column {
	outWidth := width - 54
	if outWidth < 20 {
		outWidth = 20
	}
	return []table.Column{
		{Title: "Time", Width: 19},
		{Title: "Service", Width: 18},
		{Title: "State", Width: 9},
		{Title: "Output", Width: outWidth},
	}
}

func (h *HistoryPage) ID() string { return PageHistory }

// SetParams takes the host name to show.
func (h *HistoryPage) SetParams(params any) {
	if host, ok := params.(string); ok && host != h.host {
		h.host = host
		h.events = nil
		h.table.SetRows(nil)
		h.err = ""
	}
}

// Host returns the host currently shown.
func (h *HistoryPage) Host() string { return h.host }

func (h *HistoryPage) Init() tea.Cmd {
	if h.host == "" {
		return nil
	}
	h.loading = true
	api, host := h.api, h.host
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		events, err := api.StateHistory(ctx, host, time.Time{}, time.Time{})
		return historyLoadedMsg{host: host, events: events, err: err}
	}
}

func (h *HistoryPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.table.SetColumns(historyColumns(msg.Width - 4))
		h.table.SetHeight(max(msg.Height-8, 5))
		return nil, nil

	case historyLoadedMsg:
		if msg.host != h.host {
			return nil, nil
		}
		h.loading = false
		if msg.err != nil {
			h.err = msg.err.Error()
			return nil, nil
		}
		h.err = ""
		h.setEvents(msg.events)
		return nil, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, h.keys.Quit), key.Matches(msg, h.keys.ForceQuit):
			return tea.Quit, nil
		case key.Matches(msg, h.keys.Back):
			return nil, &PageNav{PageID: PageDashboard}
		case key.Matches(msg, h.keys.Refresh):
			return h.Init(), nil
		}
		var cmd tea.Cmd
		h.table, cmd = h.table.Update(msg)
		return cmd, nil
	}
	return nil, nil
}

func (h *HistoryPage) setEvents(events []model.AlertEvent) {
	h.events = events
	rows := make([]table.Row, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		service := e.Service
		if service == "" {
			service = "(host)"
		}
		rows = append(rows, table.Row{
			e.Time.Local().Format("2006-01-02 15:04:05"),
			service,
			stateName(e.State),
			e.Output,
		})
	}
	h.table.SetRows(rows)
	h.table.SetCursor(0)
}

func (h *HistoryPage) View(width, height int) string {
	if width <= 0 {
		width = 80
	}
	header := headerStyle.Width(width).Render(fmt.Sprintf("vigil · state history · %s", h.host))

	var body string
	switch {
	case h.loading:
		body = renderLoadingPlaceholder(width-4, 5)
	case h.err != "":
		body = errorStyle.Render("error: " + h.err)
	case len(h.events) == 0:
		body = helpStyle.Render("No state changes in the current window")
	default:
		body = h.table.View()
	}

	summary := h.summary()
	footer := helpStyle.Render("esc back · r refresh · ↑/↓ scroll · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, sectionStyle.Width(width-2).Render(body), summary, footer)
}

// summary counts the events per state.
func (h *HistoryPage) summary() string {
	if len(h.events) == 0 {
		return ""
	}
	counts := make(map[int]int)
	for _, e := range h.events {
		counts[e.State]++
	}
	var out string
	for state := 0; state <= 3; state++ {
		if counts[state] == 0 {
			continue
		}
		out += stateStyle(state).Render(fmt.Sprintf("%s %d", stateName(state), counts[state])) + "  "
	}
	return out
}
