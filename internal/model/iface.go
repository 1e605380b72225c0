package model

import (
	"context"
	"time"
)

// StatusQuerier runs raw queries against the live status socket.
type StatusQuerier interface {
	Do(ctx context.Context, q Query) ([]ResultRow, error)
}

// EventSource returns alert events in [since, until). An empty host means all hosts.
type EventSource interface {
	Events(ctx context.Context, since, until time.Time, host string) ([]AlertEvent, error)
}

// EventWriter stores alert events.
type EventWriter interface {
	InsertEvents(events []AlertEvent) (int, error)
}

// ReadAPI is the read contract shared by the read surfaces (HTTP and socket RPC).
type ReadAPI interface {
	Health(ctx context.Context) HealthReport
	TopAlertProducers(ctx context.Context, limit int, since, until time.Time) ([]RankedProducer, error)
	StateHistory(ctx context.Context, host string, since, until time.Time) ([]AlertEvent, error)
	Query(ctx context.Context, q Query) ([]ResultRow, error)
}
