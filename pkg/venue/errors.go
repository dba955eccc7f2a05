package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Class partitions venue errors by how callers should react.
type Class int

const (
	// ClassTransient errors may succeed on retry: timeouts, connection
	// resets, venue 5xx, rate limiting.
	ClassTransient Class = iota
	// ClassRejection errors are business refusals; retrying the same
	// request cannot succeed.
	ClassRejection
	// ClassFatal errors indicate broken configuration or an exhausted
	// retry budget.
	ClassFatal
)

// ErrRetryExhausted wraps the final error after the retry budget runs out.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// RejectionError is a business-level refusal from the venue, e.g.
// insufficient margin or an invalid quantity step.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("venue rejected request (code %d): %s", e.Code, e.Message)
}

// HTTPError is a non-2xx response that carried no parseable venue error.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("venue http status %d: %s", e.Status, e.Body)
}

// Transient reports whether the status suggests a retry could succeed.
func (e *HTTPError) Transient() bool {
	return e.Status >= 500 ||
		e.Status == http.StatusTooManyRequests ||
		e.Status == http.StatusRequestTimeout
}

// StaleDataError reports market data too old or missing to act on. The
// signal or cycle is skipped; nothing is retried and no risk counter moves.
type StaleDataError struct {
	Instrument string
	Reason     string
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale data for %s: %s", e.Instrument, e.Reason)
}

// ConfigError reports unusable credentials or settings. Never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "venue config: " + e.Reason
}

// Classify maps an error to its retry class. Unknown errors default to
// transient so that a novel network failure still gets its retry budget.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var rej *RejectionError
	if errors.As(err, &rej) {
		return ClassRejection
	}
	var stale *StaleDataError
	if errors.As(err, &stale) {
		return ClassRejection
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return ClassFatal
	}
	if errors.Is(err, ErrRetryExhausted) {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Transient() {
			return ClassTransient
		}
		return ClassRejection
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}
