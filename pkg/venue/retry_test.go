package venue

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func newTestCaller(maxAttempts int) (*Caller, *[]time.Duration) {
	delays := &[]time.Duration{}
	c := NewCaller(maxAttempts, time.Second)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return c, delays
}

func TestCallerRetriesTransientWithBackoff(t *testing.T) {
	c, delays := newTestCaller(3)

	calls := 0
	err := c.Do(context.Background(), "place order", func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 503, Body: "service unavailable"}
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected retry exhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestCallerStopsRetryingOnceSuccessful(t *testing.T) {
	c, delays := newTestCaller(3)

	calls := 0
	err := c.Do(context.Background(), "get positions", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &HTTPError{Status: 429, Body: "rate limited"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(*delays) != 1 {
		t.Errorf("delays = %v, want one entry", *delays)
	}
}

func TestCallerDoesNotRetryRejections(t *testing.T) {
	c, _ := newTestCaller(3)

	calls := 0
	rejection := &RejectionError{Code: -2019, Message: "Margin is insufficient."}
	err := c.Do(context.Background(), "place order", func(ctx context.Context) error {
		calls++
		return rejection
	})
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCallerHonorsContextCancellation(t *testing.T) {
	c := NewCaller(3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := c.Do(ctx, "get price", func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 500, Body: "boom"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassTransient},
		{"rejection", &RejectionError{Code: -1111, Message: "Precision is over the maximum defined for this asset."}, ClassRejection},
		{"server error", &HTTPError{Status: 502, Body: "bad gateway"}, ClassTransient},
		{"rate limited", &HTTPError{Status: 429, Body: "too many requests"}, ClassTransient},
		{"client error", &HTTPError{Status: 404, Body: "not found"}, ClassRejection},
		{"stale data", &StaleDataError{Instrument: "BTCUSDT", Reason: "feed gap"}, ClassRejection},
		{"config", &ConfigError{Reason: "missing secret"}, ClassFatal},
		{"dns", &net.DNSError{Err: "no such host", Name: "fapi.binance.com"}, ClassTransient},
		{"context canceled", context.Canceled, ClassFatal},
		{"unknown", errors.New("connection reset by peer"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
