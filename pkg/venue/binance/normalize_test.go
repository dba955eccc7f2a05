package binance

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

func TestPositionRiskNormalize(t *testing.T) {
	payload := `{
		"symbol": "BTCUSDT",
		"positionAmt": "-0.024",
		"entryPrice": "62850.10",
		"markPrice": "62511.93808889",
		"unRealizedProfit": "8.11588586",
		"initialMargin": "",
		"leverage": "20"
	}`
	var raw positionRisk
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pos, err := raw.normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if pos.Instrument != "BTCUSDT" {
		t.Errorf("instrument = %q", pos.Instrument)
	}
	if pos.Quantity != -0.024 {
		t.Errorf("quantity = %v, want -0.024", pos.Quantity)
	}
	if pos.Leverage != 20 {
		t.Errorf("leverage = %d, want 20", pos.Leverage)
	}
	// Empty initialMargin is derived from notional over leverage.
	wantMargin := 0.024 * 62850.10 / 20
	if diff := pos.InitialMargin - wantMargin; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("initial margin = %v, want %v", pos.InitialMargin, wantMargin)
	}
}

func TestOrderRespNormalizeStatusCasing(t *testing.T) {
	tests := []struct {
		raw  string
		want venue.OrderStatus
	}{
		{"FILLED", venue.OrderStatusFilled},
		{"filled", venue.OrderStatusFilled},
		{"Canceled", venue.OrderStatusCanceled},
		{"CANCELLED", venue.OrderStatusCanceled},
		{"EXPIRED_IN_MATCH", venue.OrderStatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ack, err := orderResp{OrderID: 123456, Status: tt.raw, AvgPrice: "62850.10"}.normalize()
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if ack.Status != tt.want {
				t.Errorf("status = %q, want %q", ack.Status, tt.want)
			}
			if ack.OrderID != "123456" {
				t.Errorf("order id = %q, want 123456", ack.OrderID)
			}
		})
	}
}

func TestUserTradeNormalize(t *testing.T) {
	payload := `{
		"symbol": "ETHUSDT",
		"orderId": 8389765,
		"side": "sell",
		"price": "2456.70",
		"qty": "0.810",
		"realizedPnl": "12.33450000",
		"commission": "0.99544350",
		"time": 1756500000000
	}`
	var raw userTrade
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rt, err := raw.normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rt.Side != venue.SideSell {
		t.Errorf("side = %q, want SELL", rt.Side)
	}
	if rt.RealizedPnl != 12.3345 {
		t.Errorf("realized pnl = %v, want 12.3345", rt.RealizedPnl)
	}
	if rt.Time.UnixMilli() != 1756500000000 {
		t.Errorf("time = %v", rt.Time)
	}
}

func TestNormalizeRejectsGarbageNumbers(t *testing.T) {
	_, err := positionRisk{
		Symbol:      "BTCUSDT",
		PositionAmt: "not-a-number",
		EntryPrice:  "0",
		MarkPrice:   "0",
	}.normalize()
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClassifyResponse(t *testing.T) {
	err := classifyResponse(400, []byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	var rej *venue.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %T: %v", err, err)
	}
	if rej.Code != -2019 {
		t.Errorf("code = %d, want -2019", rej.Code)
	}

	err = classifyResponse(503, []byte("upstream unavailable"))
	var httpErr *venue.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected http error, got %T: %v", err, err)
	}
	if !httpErr.Transient() {
		t.Error("503 should classify transient")
	}

	// 429 keeps its status for backoff even when the body parses.
	err = classifyResponse(429, []byte(`{"code":-1003,"msg":"Too many requests."}`))
	if !errors.As(err, &httpErr) || !httpErr.Transient() {
		t.Fatalf("expected transient http error, got %v", err)
	}
}
