package model

import "time"

// Shared defaults used by the server, the TUI and the CLI.
const (
	DefaultUpdateInterval = 5 * time.Second
	DefaultQueryTimeout   = 5 * time.Second
	DefaultTopLimit       = 5
	DefaultHistoryWindow  = 7 * 24 * time.Hour
)
