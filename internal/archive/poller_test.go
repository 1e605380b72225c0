package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tinytelemetry/vigil/internal/livestatus"
	"github.com/tinytelemetry/vigil/internal/livestatus/livestatustest"
	"github.com/tinytelemetry/vigil/internal/model"
)

func TestPollerCopiesLiveEvents(t *testing.T) {
	env := livestatustest.NewEnvironment(t)
	now := time.Unix(1700000000, 0)
	env.Server.AddEvent(model.AlertEvent{Host: "web1", Service: "HTTP", Time: now.Add(-48 * time.Hour), State: 2, StateType: "HARD"})
	env.Server.AddEvent(model.AlertEvent{Host: "web1", Service: "HTTP", Time: now.Add(-time.Hour), State: 2, StateType: "HARD"})
	env.Server.AddEvent(model.AlertEvent{Host: "db1", Time: now.Add(-time.Minute), State: 1, StateType: "SOFT"})

	client, err := livestatus.NewClient(env.SocketPath())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	store := newTestStore(t)
	p := NewPoller(client, store, PollerConfig{Backfill: 24 * time.Hour, Now: func() time.Time { return now }})

	n, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("first poll archived %d, want 2 (backfill excludes the 48h old event)", n)
	}

	env.Server.AddEvent(model.AlertEvent{Host: "db1", Time: now, State: 2, StateType: "HARD"})
	n, err = p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("second poll archived %d, want 1", n)
	}

	total, _ := store.TotalEvents(context.Background())
	if total != 3 {
		t.Errorf("TotalEvents = %d, want 3", total)
	}
}

type failingSource struct{ calls int }

func (f *failingSource) Events(ctx context.Context, since, until time.Time, host string) ([]model.AlertEvent, error) {
	f.calls++
	return nil, errors.New("socket gone")
}

func TestPollerRunSurvivesErrorsAndStops(t *testing.T) {
	src := &failingSource{}
	p := NewPoller(src, newTestStore(t), PollerConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if src.calls < 2 {
		t.Errorf("source polled %d times, want at least 2", src.calls)
	}
}
