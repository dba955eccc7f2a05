package binance

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimeSync keeps the local clock aligned with the venue server clock so
// signed request timestamps stay inside the recv window.
type TimeSync struct {
	getServerTime func() (int64, error)
	syncInterval  time.Duration
	warnAbove     int64 // ms of drift that risks recvWindow rejections

	mu       sync.RWMutex
	offset   int64 // ms, server minus local
	lastSync time.Time
}

func NewTimeSync(getServerTime func() (int64, error)) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
		// Half the default 5000ms recv window; past this, a retried
		// request can land outside the window.
		warnAbove: 2500,
	}
}

// Start performs an initial sync and then re-syncs periodically until the
// context ends.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(); err != nil {
		log.Printf("binance: initial time sync failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(); err != nil {
					log.Printf("binance: time sync failed: %v", err)
				}
			}
		}
	}()
}

// Sync fetches server time and updates the offset, assuming symmetric
// network latency.
func (ts *TimeSync) Sync() error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime()
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	latency := (localAfter - localBefore) / 2
	offset := serverTime - (localBefore + latency)

	ts.mu.Lock()
	ts.offset = offset
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	abs := offset
	if abs < 0 {
		abs = -abs
	}
	if abs > ts.warnAbove {
		log.Printf("binance: clock drift %dms approaches the recv window, check NTP", offset)
	}
	log.Printf("binance: time sync offset=%dms", offset)
	return nil
}

// Now returns current time in ms adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// LastSync reports when the offset was last refreshed; zero before the
// first successful sync.
func (ts *TimeSync) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync
}
