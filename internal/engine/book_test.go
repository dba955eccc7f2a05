package engine

import (
	"testing"
	"time"
)

func TestBookRejectsSecondLiveTrade(t *testing.T) {
	b := NewBook()
	if err := b.Create(&Trade{ID: "a", Instrument: "BTCUSDT", Direction: DirectionLong}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := b.Create(&Trade{ID: "b", Instrument: "BTCUSDT", Direction: DirectionShort}); err == nil {
		t.Fatal("second live trade on the same instrument must be rejected")
	}
	if err := b.Create(&Trade{ID: "c", Instrument: "ETHUSDT", Direction: DirectionShort}); err != nil {
		t.Fatalf("different instrument should be independent: %v", err)
	}
}

func TestBookTransitionAdjacency(t *testing.T) {
	b := NewBook()
	if err := b.Create(&Trade{ID: "a", Instrument: "BTCUSDT"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// PENDING cannot jump straight to PROTECTED.
	if _, err := b.Transition("BTCUSDT", StateProtected, nil); err == nil {
		t.Fatal("PENDING -> PROTECTED must be rejected")
	}

	steps := []State{StateOpenUnprotected, StateProtected, StatePartiallyClosed, StateClosedTP}
	for _, s := range steps {
		if _, err := b.Transition("BTCUSDT", s, nil); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}

	// Terminal state removed the trade from the live table.
	if _, ok := b.Get("BTCUSDT"); ok {
		t.Fatal("terminal trade must leave the live table")
	}
	if _, err := b.Transition("BTCUSDT", StateClosedManual, nil); err == nil {
		t.Fatal("transition on a removed trade must fail")
	}

	// Instrument is free for a new trade now.
	if err := b.Create(&Trade{ID: "b", Instrument: "BTCUSDT"}); err != nil {
		t.Fatalf("create after closure: %v", err)
	}
}

func TestBookTerminalSetsClosedAt(t *testing.T) {
	b := NewBook()
	if err := b.Create(&Trade{ID: "a", Instrument: "BTCUSDT"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	closed, err := b.Transition("BTCUSDT", StateAborted, func(tr *Trade) {
		tr.ExitReason = ExitReasonAbortedPriceDrift
	})
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if closed.ClosedAt.IsZero() {
		t.Error("terminal transition should stamp ClosedAt")
	}
	if closed.ExitReason != ExitReasonAbortedPriceDrift {
		t.Errorf("exit reason = %q", closed.ExitReason)
	}
}

func TestBookSignalDedup(t *testing.T) {
	b := NewBook()
	sig := Signal{Instrument: "BTCUSDT", Direction: DirectionLong, Price: 62850.104, Time: time.Now()}

	if b.MarkSignalSeen(sig.DedupKey()) {
		t.Fatal("first sighting should not report duplicate")
	}
	if !b.MarkSignalSeen(sig.DedupKey()) {
		t.Fatal("second sighting must report duplicate")
	}

	// A different price rounds to a different bucket.
	other := sig
	other.Price = 62850.99
	if b.MarkSignalSeen(other.DedupKey()) {
		t.Fatal("different rounded price is a different signal")
	}
}

func TestSignalDedupKeyMinuteBucket(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 30, 5, 0, time.UTC)
	a := Signal{Instrument: "BTCUSDT", Direction: DirectionLong, Price: 100.004, Time: at}
	b := Signal{Instrument: "BTCUSDT", Direction: DirectionLong, Price: 100.0001, Time: at.Add(40 * time.Second)}
	c := Signal{Instrument: "BTCUSDT", Direction: DirectionLong, Price: 100.0, Time: at.Add(time.Minute)}

	if a.DedupKey() != b.DedupKey() {
		t.Errorf("same minute and rounded price should collide: %q vs %q", a.DedupKey(), b.DedupKey())
	}
	if a.DedupKey() == c.DedupKey() {
		t.Error("next minute must be a fresh bucket")
	}
}
