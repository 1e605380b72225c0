package tui

import tea "github.com/charmbracelet/bubbletea"

// Page represents a top-level screen in the TUI.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// ParamPage is a page that accepts the Params of the navigation that opens it.
type ParamPage interface {
	Page
	SetParams(params any)
}

// PageNav is returned from Update to request a page switch.
type PageNav struct {
	PageID string
	Params any
}

// Page ids.
const (
	PageDashboard = "dashboard"
	PageHistory   = "history"
)
