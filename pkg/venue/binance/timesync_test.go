package binance

import (
	"errors"
	"testing"
	"time"
)

func TestSyncComputesOffset(t *testing.T) {
	ts := NewTimeSync(func() (int64, error) {
		return time.Now().UnixMilli() + 1500, nil
	})
	if err := ts.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Latency correction keeps the offset near the injected 1500ms skew.
	off := ts.Offset()
	if off < 1400 || off > 1600 {
		t.Errorf("offset = %dms, want about 1500ms", off)
	}
	if ts.LastSync().IsZero() {
		t.Error("last sync time not recorded")
	}

	now := ts.Now()
	local := time.Now().UnixMilli()
	if now-local < 1400 || now-local > 1600 {
		t.Errorf("Now() skew = %dms, want about 1500ms", now-local)
	}
}

func TestSyncFailureKeepsOldOffset(t *testing.T) {
	calls := 0
	ts := NewTimeSync(func() (int64, error) {
		calls++
		if calls > 1 {
			return 0, errors.New("venue unreachable")
		}
		return time.Now().UnixMilli() + 1000, nil
	})
	if err := ts.Sync(); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before := ts.Offset()

	if err := ts.Sync(); err == nil {
		t.Fatal("expected second sync to fail")
	}
	if got := ts.Offset(); got != before {
		t.Errorf("offset changed on failed sync: %d -> %d", before, got)
	}
}
