package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tinytelemetry/vigil/internal/model"
)

type eventKey struct {
	ts      int64
	host    string
	service string
	state   int
}

// InsertEvents stores events, skipping ones already archived. An event is
// identified by its time (to the second), host, service and state. It
// returns the number of new rows.
func (s *Store) InsertEvents(events []model.AlertEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	before, err := countTx(ctx, tx)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alert_events
		(ts, host, service, state, state_type, output) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer stmt.Close()

	seen := make(map[eventKey]bool, len(events))
	for _, ev := range events {
		if ev.Host == "" || ev.Time.IsZero() {
			log.Printf("archive: skipping event without host or time (host=%q)", ev.Host)
			continue
		}
		ts := ev.Time.UTC().Truncate(time.Second)
		key := eventKey{ts.Unix(), ev.Host, ev.Service, ev.State}
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, err := stmt.ExecContext(ctx, ts, ev.Host, ev.Service, ev.State, ev.StateType, ev.Output); err != nil {
			return 0, fmt.Errorf("archive: insert event for %s: %w", ev.Host, err)
		}
	}

	after, err := countTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit: %w", err)
	}
	committed = true
	return int(after - before), nil
}

func countTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var n int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

// Events returns archived events in [since, until), oldest first. Zero
// times leave that side of the window open; an empty host means all hosts.
func (s *Store) Events(ctx context.Context, since, until time.Time, host string) ([]model.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if !since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, until.UTC())
	}
	if host != "" {
		where = append(where, "host = ?")
		args = append(args, host)
	}

	query := `SELECT ts, host, service, state, state_type, output FROM alert_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, host ASC, service ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query events: %w", err)
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var ev model.AlertEvent
		if err := rows.Scan(&ev.Time, &ev.Host, &ev.Service, &ev.State, &ev.StateType, &ev.Output); err != nil {
			log.Printf("archive: scan error (Events): %v", err)
			continue
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LatestTimestamp returns the time of the newest archived event. ok is
// false when the archive is empty.
func (s *Store) LatestTimestamp(ctx context.Context) (ts time.Time, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(ts) FROM alert_events").Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("archive: latest timestamp: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

// TotalEvents returns the number of archived events.
func (s *Store) TotalEvents(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

// DeleteBefore removes events older than cutoff and returns how many went.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM alert_events WHERE ts < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("archive: delete before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}
