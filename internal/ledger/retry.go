package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
)

// Policy retries an operation with exponential backoff. The delay before
// attempt n+1 is Backoff * 2^(n-1).
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnFailure observes every failed attempt, including the last.
	OnFailure func(attempt int, err error)
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, Backoff: defaultBackoff}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was produced by Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached. The returned error wraps the last failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := p.Backoff
	if delay < 0 {
		delay = 0
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err
		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry interrupted after attempt %d: %w", attempt, err)
		}
		delay *= 2
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
