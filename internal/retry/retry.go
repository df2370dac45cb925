// Package retry provides a shared jittered exponential backoff helper used
// by the comparator's HEAD checks and the workers' GETs. The storage layer
// and the orchestrator use their own retry helpers.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy configures exponential backoff: start at Base, double each attempt,
// capped at Max, for up to MaxAttempts total tries (the first try plus
// MaxAttempts-1 retries).
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Do calls fn until it succeeds, fn returns a non-retriable error (retriable
// decides), or MaxAttempts is exhausted. It returns the last error seen.
func (p Policy) Do(ctx context.Context, retriable func(error) bool, fn func() error) error {
	delay := p.Base
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retriable != nil && !retriable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		wait := delay
		if wait > p.Max {
			wait = p.Max
		}
		jitter := time.Duration(rand.Int64N(int64(wait) + 1)) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait + jitter):
		}
		delay *= 2
	}
	return err
}

// AlwaysRetriable treats every error as retriable; used for network calls
// where the caller has already filtered to transient failure classes.
func AlwaysRetriable(error) bool { return true }
