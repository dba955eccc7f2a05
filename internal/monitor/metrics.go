package monitor

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics tracks engine activity counters. All methods are safe for
// concurrent use.
type Metrics struct {
	signalsReceived uint64
	signalsRejected uint64
	tradesOpened    uint64
	tradesClosed    uint64
	partialExits    uint64
	venueCalls      uint64
	venueErrors     uint64
	reconcilePasses uint64
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncrementSignalsReceived() { atomic.AddUint64(&m.signalsReceived, 1) }
func (m *Metrics) IncrementSignalsRejected() { atomic.AddUint64(&m.signalsRejected, 1) }
func (m *Metrics) IncrementTradesOpened()    { atomic.AddUint64(&m.tradesOpened, 1) }
func (m *Metrics) IncrementTradesClosed()    { atomic.AddUint64(&m.tradesClosed, 1) }
func (m *Metrics) IncrementPartialExits()    { atomic.AddUint64(&m.partialExits, 1) }
func (m *Metrics) IncrementVenueCalls()      { atomic.AddUint64(&m.venueCalls, 1) }
func (m *Metrics) IncrementVenueErrors()     { atomic.AddUint64(&m.venueErrors, 1) }
func (m *Metrics) IncrementReconcilePasses() { atomic.AddUint64(&m.reconcilePasses, 1) }

// Snapshot is a point-in-time view of the counters plus runtime stats.
type Snapshot struct {
	SignalsReceived uint64    `json:"signals_received"`
	SignalsRejected uint64    `json:"signals_rejected"`
	TradesOpened    uint64    `json:"trades_opened"`
	TradesClosed    uint64    `json:"trades_closed"`
	PartialExits    uint64    `json:"partial_exits"`
	VenueCalls      uint64    `json:"venue_calls"`
	VenueErrors     uint64    `json:"venue_errors"`
	ReconcilePasses uint64    `json:"reconcile_passes"`
	GoroutineCount  int       `json:"goroutine_count"`
	HeapAlloc       uint64    `json:"heap_alloc_bytes"`
	Timestamp       time.Time `json:"timestamp"`
}

// GetSnapshot returns the current counter values.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		SignalsReceived: atomic.LoadUint64(&m.signalsReceived),
		SignalsRejected: atomic.LoadUint64(&m.signalsRejected),
		TradesOpened:    atomic.LoadUint64(&m.tradesOpened),
		TradesClosed:    atomic.LoadUint64(&m.tradesClosed),
		PartialExits:    atomic.LoadUint64(&m.partialExits),
		VenueCalls:      atomic.LoadUint64(&m.venueCalls),
		VenueErrors:     atomic.LoadUint64(&m.venueErrors),
		ReconcilePasses: atomic.LoadUint64(&m.reconcilePasses),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}
