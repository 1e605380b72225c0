package archive

import (
	"context"
	"testing"
	"time"

	"github.com/tinytelemetry/vigil/internal/model"
)

func TestRetentionCleaner_DisabledReturnsNil(t *testing.T) {
	store := newTestStore(t)
	if rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 0}); rc != nil {
		t.Fatal("expected nil cleaner when retention is disabled")
	}
}

func TestRetentionCleaner_StartupSweep(t *testing.T) {
	store := newTestStore(t)
	now := base.Add(10 * 24 * time.Hour)
	insertTestEvents(t, store, []model.AlertEvent{
		{Host: "old", Time: base, State: 2},
		{Host: "new", Time: now.Add(-time.Hour), State: 2},
	})

	rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 7, Now: func() time.Time { return now }})
	if rc == nil {
		t.Fatal("expected non-nil retention cleaner")
	}
	defer rc.Stop()

	events, err := store.Events(context.Background(), time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Host != "new" {
		t.Errorf("after startup sweep: %+v, want only the recent event", events)
	}
	if n := rc.Sweep(); n != 0 {
		t.Errorf("second sweep deleted %d, want 0", n)
	}
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1, Interval: 10 * time.Millisecond})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}

	time.Sleep(30 * time.Millisecond)
	cleaner.Stop()
	cleaner.Stop()
}
