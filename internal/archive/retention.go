package archive

import (
	"log"
	"sync"
	"time"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	// Interval between sweeps. Defaults to one hour.
	Interval time.Duration
	Now      func() time.Time
}

// RetentionCleaner periodically deletes events older than the retention
// period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	now           func() time.Time
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner sweeps once, then keeps sweeping in the background
// until Stop. It returns nil when retention is disabled (0 days).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 90
	interval := time.Hour
	now := time.Now
	if len(conf) > 0 {
		days = conf[0].RetentionDays
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
		if conf[0].Now != nil {
			now = conf[0].Now
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: days,
		interval:      interval,
		now:           now,
		done:          make(chan struct{}),
	}

	// Catch up after downtime.
	rc.Sweep()

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.Sweep()
		case <-rc.done:
			return
		}
	}
}

// Sweep deletes expired events now and returns how many were removed.
func (rc *RetentionCleaner) Sweep() int64 {
	cutoff := rc.now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	n, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("archive: retention sweep error: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("archive: retention sweep deleted %d events older than %d days", n, rc.retentionDays)
	}
	return n
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
