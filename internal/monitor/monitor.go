package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/internal/events"
)

// Monitor watches engine events and emits alerts.
type Monitor struct {
	Bus     *events.Bus
	AlertFn func(string)
}

// Start subscribes to alert-worthy topics until the context ends. A nil
// AlertFn falls back to the process log.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor not configured; skipping")
		return
	}
	alert := m.AlertFn
	if alert == nil {
		alert = func(s string) { log.Println(s) }
	}

	topics := []events.Event{
		events.EventRiskPaused,
		events.EventRiskAuditMismatch,
		events.EventProtectionAlert,
	}
	for _, topic := range topics {
		stream, unsub := m.Bus.Subscribe(topic, 50)
		go func(stream <-chan events.Note, unsub func()) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case note, ok := <-stream:
					if !ok {
						return
					}
					alert(formatAlert(note))
				}
			}
		}(stream, unsub)
	}
}

func formatAlert(n events.Note) string {
	return fmt.Sprintf("[%s] %s: %s", n.At.Format(time.RFC3339), n.Topic, toString(n.Data))
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return "alert triggered"
	}
}
