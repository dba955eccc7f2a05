package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Note is one published notification: the topic it was sent on, when it
// was emitted, and the payload.
type Note struct {
	Topic Event
	At    time.Time
	Data  any
}

// Bus is a lightweight pub/sub broker using channels. Publishing never
// blocks; a subscriber that falls behind loses notes.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan Note
	dropped uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Note)}
}

// Subscribe registers a listener for a topic and returns the channel and
// an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Note, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Note, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to the topic's subscribers. Full subscriber
// buffers drop the note and bump the dropped counter.
func (b *Bus) Publish(e Event, payload any) {
	n := Note{Topic: e, At: time.Now().UTC(), Data: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- n:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

// Dropped reports how many notes were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
