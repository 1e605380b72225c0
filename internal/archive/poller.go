package archive

import (
	"context"
	"log"
	"time"

	"github.com/tinytelemetry/vigil/internal/model"
)

// PollerConfig holds tunable parameters for the poller.
type PollerConfig struct {
	// Interval between polls. Defaults to one minute.
	Interval time.Duration
	// Backfill is how far back the first poll of an empty archive reaches.
	// Defaults to the history window.
	Backfill time.Duration
	Now      func() time.Time
}

// Poller copies alert events from a live source into the archive. Each
// poll asks for everything since the newest archived event; the overlap
// is dropped by the archive's natural key.
type Poller struct {
	source   model.EventSource
	writer   model.EventWriter
	latest   func(ctx context.Context) (time.Time, bool, error)
	interval time.Duration
	backfill time.Duration
	now      func() time.Time
}

// NewPoller returns a poller feeding store from source.
func NewPoller(source model.EventSource, store *Store, conf ...PollerConfig) *Poller {
	p := &Poller{
		source:   source,
		writer:   store,
		latest:   store.LatestTimestamp,
		interval: time.Minute,
		backfill: model.DefaultHistoryWindow,
		now:      time.Now,
	}
	if len(conf) > 0 {
		if conf[0].Interval > 0 {
			p.interval = conf[0].Interval
		}
		if conf[0].Backfill > 0 {
			p.backfill = conf[0].Backfill
		}
		if conf[0].Now != nil {
			p.now = conf[0].Now
		}
	}
	return p
}

// PollOnce runs one copy pass and returns the number of new events.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	since, ok, err := p.latest(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		since = p.now().Add(-p.backfill)
	}

	events, err := p.source.Events(ctx, since, time.Time{}, "")
	if err != nil {
		return 0, err
	}
	return p.writer.InsertEvents(events)
}

// Run polls until ctx is cancelled. Poll failures are logged and retried
// on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("archive: poll error: %v", err)
		}
		return
	}
	if n > 0 {
		log.Printf("archive: archived %d new alert events", n)
	}
}
