package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/vigil/internal/model"
)

const (
	maxLimit     = 50
	fetchTimeout = 10 * time.Second
)

// TickMsg represents periodic updates.
type TickMsg time.Time

type producersLoadedMsg struct {
	producers []model.RankedProducer
	health    model.HealthReport
	err       error
	at        time.Time
}

// DashboardPage shows the top alert producers as a table and a bar chart.
type DashboardPage struct {
	api      model.ReadAPI
	source   string
	interval time.Duration
	limit    int
	keys     KeyMap
	now      func() time.Time

	table         table.Model
	producers     []model.RankedProducer
	health        model.HealthReport
	fetchInFlight bool
	paused        bool
	lastError     string
	lastUpdate    time.Time
}

// NewDashboardPage returns a dashboard reading from api every interval.
// source names the backend in the header, e.g. the socket path.
func NewDashboardPage(api model.ReadAPI, source string, interval time.Duration, limit int) *DashboardPage {
	if interval <= 0 {
		interval = model.DefaultUpdateInterval
	}
	if limit <= 0 {
		limit = model.DefaultTopLimit
	}
	t := table.New(
		table.WithColumns(producerColumns(80)),
		table.WithFocused(true),
		table.WithHeight(limit+1),
	)
	return &DashboardPage{
		api:      api,
		source:   source,
		interval: interval,
		limit:    limit,
		keys:     DefaultKeyMap(),
		now:      time.Now,
		table:    t,
	}
}

func producerColumns(width int) []table.Column {
	nameWidth := width - 24
	if nameWidth < 20 {
		nameWidth = 20
	}
	return []table.Column{
		{Title: "#", Width: 3},
		{Title: "Host / Service", Width: nameWidth},
		{Title: "Alerts", Width: 8},
	}
}

func (d *DashboardPage) ID() string { return PageDashboard }

func (d *DashboardPage) Init() tea.Cmd {
	d.fetchInFlight = true
	return tea.Batch(d.fetchCmd(), d.tickCmd())
}

func (d *DashboardPage) tickCmd() tea.Cmd {
	return tea.Tick(d.interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchCmd loads the ranking and health report off the UI goroutine.
func (d *DashboardPage) fetchCmd() tea.Cmd {
	api, limit, now := d.api, d.limit, d.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		msg := producersLoadedMsg{at: now()}
		msg.health = api.Health(ctx)
		msg.producers, msg.err = api.TopAlertProducers(ctx, limit, time.Time{}, time.Time{})
		return msg
	}
}

func (d *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.table.SetColumns(producerColumns(msg.Width - 4))
		return nil, nil

	case TickMsg:
		// Skip the fetch while paused or while the previous one is still running.
		if d.paused || d.fetchInFlight {
			return d.tickCmd(), nil
		}
		d.fetchInFlight = true
		return tea.Batch(d.fetchCmd(), d.tickCmd()), nil

	case producersLoadedMsg:
		d.apply(msg)
		return nil, nil

	case tea.KeyMsg:
		return d.handleKey(msg)
	}
	return nil, nil
}

func (d *DashboardPage) handleKey(msg tea.KeyMsg) (tea.Cmd, *PageNav) {
	switch {
	case key.Matches(msg, d.keys.Quit), key.Matches(msg, d.keys.ForceQuit):
		return tea.Quit, nil

	case key.Matches(msg, d.keys.Refresh):
		if d.fetchInFlight {
			return nil, nil
		}
		d.fetchInFlight = true
		return d.fetchCmd(), nil

	case key.Matches(msg, d.keys.Pause):
		d.paused = !d.paused
		return nil, nil

	case key.Matches(msg, d.keys.LimitUp):
		return d.setLimit(d.limit + 1), nil

	case key.Matches(msg, d.keys.LimitDown):
		return d.setLimit(d.limit - 1), nil

	case key.Matches(msg, d.keys.Enter):
		if host := d.SelectedHost(); host != "" {
			return nil, &PageNav{PageID: PageHistory, Params: host}
		}
		return nil, nil
	}

	var cmd tea.Cmd
	d.table, cmd = d.table.Update(msg)
	return cmd, nil
}

func (d *DashboardPage) setLimit(limit int) tea.Cmd {
	if limit < 1 || limit > maxLimit || limit == d.limit {
		return nil
	}
	d.limit = limit
	d.table.SetHeight(limit + 1)
	if d.fetchInFlight {
		return nil
	}
	d.fetchInFlight = true
	return d.fetchCmd()
}

func (d *DashboardPage) apply(msg producersLoadedMsg) {
	d.fetchInFlight = false
	d.health = msg.health
	if msg.err != nil {
		// Keep the previous ranking visible until the next good fetch.
		d.lastError = msg.err.Error()
		return
	}
	d.lastError = ""
	d.lastUpdate = msg.at
	d.producers = msg.producers

	rows := make([]table.Row, 0, len(msg.producers))
	for i, p := range msg.producers {
		rows = append(rows, table.Row{fmt.Sprintf("%d", i+1), p.EntityName, fmt.Sprintf("%d", p.Count)})
	}
	d.table.SetRows(rows)
	if d.table.Cursor() >= len(rows) {
		d.table.SetCursor(max(len(rows)-1, 0))
	}
}

// SelectedHost returns the host of the highlighted producer, or "".
func (d *DashboardPage) SelectedHost() string {
	i := d.table.Cursor()
	if i < 0 || i >= len(d.producers) {
		return ""
	}
	return d.producers[i].Host
}

func (d *DashboardPage) View(width, height int) string {
	if width <= 0 {
		width = 80
	}

	header := headerStyle.Width(width).Render(d.headerText())

	var body string
	switch {
	case d.lastUpdate.IsZero() && d.lastError == "":
		body = renderLoadingPlaceholder(width-4, chartHeight)
	case len(d.producers) == 0:
		body = helpStyle.Render("No alerts in the current window")
	default:
		body = lipgloss.JoinVertical(lipgloss.Left,
			chartTitleStyle.Render(fmt.Sprintf("Top %d alert producers", d.limit)),
			renderProducerChart(d.producers, width-4),
			"",
			d.table.View(),
		)
	}
	section := sectionStyle.Width(width - 2).Render(body)

	parts := []string{header, section, d.healthLine()}
	if d.lastError != "" {
		parts = append(parts, errorStyle.Render("error: "+d.lastError))
	}
	parts = append(parts, helpStyle.Render(helpLine(d.keys)))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (d *DashboardPage) headerText() string {
	status := "live"
	if d.paused {
		status = "paused"
	}
	updated := "never"
	if !d.lastUpdate.IsZero() {
		updated = d.lastUpdate.Format("15:04:05")
	}
	return fmt.Sprintf("vigil · %s · every %s · %s · updated %s", d.source, d.interval, status, updated)
}

func (d *DashboardPage) healthLine() string {
	if len(d.health.Checks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.health.Checks))
	for _, c := range d.health.Checks {
		dot := lipgloss.NewStyle().Foreground(ColorGreen).Render("●")
		if c.Status != model.HealthPass {
			dot = lipgloss.NewStyle().Foreground(ColorRed).Render("●")
		}
		parts = append(parts, dot+" "+c.Name)
	}
	return strings.Join(parts, "  ")
}

func helpLine(k KeyMap) string {
	var parts []string
	for _, b := range k.ShortHelp() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " · ")
}
