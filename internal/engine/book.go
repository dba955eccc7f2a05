package engine

import (
	"fmt"
	"sync"
	"time"
)

// Book is the single owner of live trades, keyed by instrument. Every
// mutation happens under its one mutex; venue calls never do. Workers read
// snapshot copies and apply results through Transition or Update.
type Book struct {
	mu     sync.Mutex
	trades map[string]*Trade
	seen   map[string]time.Time // signal dedup keys

	now func() time.Time
}

// NewBook creates an empty trade book.
func NewBook() *Book {
	return &Book{
		trades: make(map[string]*Trade),
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Create adds a new trade in PENDING. Rejected when the instrument already
// has a live trade.
func (b *Book) Create(t *Trade) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.trades[t.Instrument]; ok {
		return fmt.Errorf("book: %s already has a live trade in %s", t.Instrument, existing.State)
	}
	t.State = StatePending
	t.CreatedAt = b.now()
	b.trades[t.Instrument] = t
	return nil
}

// Get returns a copy of the live trade for an instrument.
func (b *Book) Get(instrument string) (Trade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trades[instrument]
	if !ok {
		return Trade{}, false
	}
	return *t, true
}

// Snapshot returns copies of all live trades.
func (b *Book) Snapshot() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trade, 0, len(b.trades))
	for _, t := range b.trades {
		out = append(out, *t)
	}
	return out
}

// InState returns copies of live trades currently in one of the given
// states.
func (b *Book) InState(states ...State) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Trade
	for _, t := range b.trades {
		for _, s := range states {
			if t.State == s {
				out = append(out, *t)
				break
			}
		}
	}
	return out
}

// Transition applies a state change. The apply callback runs under the
// book lock to update trade fields for the new state. Terminal states
// remove the trade from the live table; the returned copy carries the
// final fields for journaling.
func (b *Book) Transition(instrument string, to State, apply func(*Trade)) (Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.trades[instrument]
	if !ok {
		return Trade{}, fmt.Errorf("book: no live trade for %s", instrument)
	}
	if !canTransition(t.State, to) {
		return Trade{}, fmt.Errorf("book: %s cannot move %s -> %s", instrument, t.State, to)
	}
	t.State = to
	if apply != nil {
		apply(t)
	}
	if to.Terminal() {
		if t.ClosedAt.IsZero() {
			t.ClosedAt = b.now()
		}
		delete(b.trades, instrument)
	}
	return *t, nil
}

// Update mutates trade fields without a state change, e.g. recording a
// protection attempt or an order id.
func (b *Book) Update(instrument string, apply func(*Trade)) (Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.trades[instrument]
	if !ok {
		return Trade{}, fmt.Errorf("book: no live trade for %s", instrument)
	}
	apply(t)
	return *t, nil
}

// MarkSignalSeen records a dedup key and reports whether it was already
// present. Keys expire after two minutes; the bucket itself is per-minute
// so expired keys can never collide with live ones.
func (b *Book) MarkSignalSeen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for k, at := range b.seen {
		if now.Sub(at) > 2*time.Minute {
			delete(b.seen, k)
		}
	}
	if _, dup := b.seen[key]; dup {
		return true
	}
	b.seen[key] = now
	return false
}
