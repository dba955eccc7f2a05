package venue

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Caller wraps venue operations with retry on transient failures. Delays
// double on each attempt starting from BaseDelay. Rejections and fatal
// errors surface immediately.
type Caller struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// OnCall and OnError feed call counters when set.
	OnCall  func()
	OnError func()

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCaller builds a Caller. maxAttempts <= 0 defaults to 3 and
// baseDelay <= 0 defaults to one second.
func NewCaller(maxAttempts int, baseDelay time.Duration) *Caller {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Caller{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// Do runs fn until it succeeds, a non-transient error surfaces, the
// context ends, or the attempt budget runs out.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if c.OnCall != nil {
			c.OnCall()
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if c.OnError != nil {
			c.OnError()
		}
		switch Classify(lastErr) {
		case ClassRejection, ClassFatal:
			return lastErr
		}
		if attempt == c.MaxAttempts {
			break
		}
		delay := c.BaseDelay << (attempt - 1)
		log.Printf("caller: %s attempt %d/%d in %v after: %v", op, attempt+1, c.MaxAttempts, delay, lastErr)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrRetryExhausted, op, c.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
