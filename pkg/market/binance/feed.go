// Package market streams mark prices from the Binance futures public
// websocket and caches the latest value per instrument.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MarkPrice is one update from the markPrice stream.
type MarkPrice struct {
	Instrument string
	Price      float64
	Time       time.Time
}

// Feed manages a combined markPrice stream for a set of instruments and
// keeps the latest price per instrument in memory.
type Feed struct {
	streamURL string
	dialer    *websocket.Dialer

	mu     sync.RWMutex
	latest map[string]MarkPrice
}

// NewFeed builds a feed for the given instruments; testnet toggles the host.
func NewFeed(instruments []string, testnet bool) *Feed {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	streams := make([]string, 0, len(instruments))
	for _, ins := range instruments {
		// Binance requires lowercase symbols for websocket streams.
		streams = append(streams, strings.ToLower(ins)+"@markPrice@1s")
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}
	return &Feed{
		streamURL: u.String(),
		dialer:    websocket.DefaultDialer,
		latest:    make(map[string]MarkPrice),
	}
}

// Run connects and consumes updates until the context ends, reconnecting
// with a flat delay after read or dial failures.
func (f *Feed) Run(ctx context.Context) {
	const reconnectDelay = 5 * time.Second
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("market: stream error, reconnecting in %v: %v", reconnectDelay, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial mark price stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		update, err := parseMarkPriceMessage(msg)
		if err != nil {
			log.Printf("market: parse error: %v", err)
			continue
		}
		f.mu.Lock()
		f.latest[update.Instrument] = update
		f.mu.Unlock()
	}
}

// Latest returns the cached price for an instrument and whether one exists.
func (f *Feed) Latest(instrument string) (MarkPrice, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	mp, ok := f.latest[instrument]
	return mp, ok
}

// Price returns the cached price when fresher than maxAge. A stale or
// absent entry returns false so callers fall back to the REST price.
func (f *Feed) Price(instrument string, maxAge time.Duration) (float64, bool) {
	mp, ok := f.Latest(instrument)
	if !ok || time.Since(mp.Time) > maxAge {
		return 0, false
	}
	return mp.Price, true
}

func parseMarkPriceMessage(msg []byte) (MarkPrice, error) {
	var raw struct {
		Data struct {
			EventTime int64       `json:"E"`
			Symbol    string      `json:"s"`
			Price     interface{} `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MarkPrice{}, err
	}
	if raw.Data.Symbol == "" {
		return MarkPrice{}, fmt.Errorf("mark price message without symbol")
	}
	return MarkPrice{
		Instrument: raw.Data.Symbol,
		Price:      toFloat(raw.Data.Price),
		Time:       time.UnixMilli(raw.Data.EventTime),
	}, nil
}
