// Package retry provides the single retry combinator spec.md §9 asks for:
// one implementation of "bounded retries, exponential backoff, jitter,
// is-this-retryable" shared by both RPC edges — gateway-to-node and
// client-to-gateway.
//
// Grounded on original_source/load_balancer/load_balancer.py's
// retry_with_backoff and the teacher's internal/cluster/replicator.go
// (sendReplicateRequest's exponential-backoff loop).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy parameterizes the combinator per spec.md §4.4/§4.6: attempts is
// the max number of tries (not additional retries), base/jitter bound the
// backoff delay, and IsRetryable decides whether a given error/result
// deserves another attempt.
type Policy struct {
	Attempts    int
	Base        time.Duration
	Jitter      time.Duration
	IsRetryable func(err error, ok bool) bool
}

// Default503Retryable treats any failed attempt (transport error or a
// caller-flagged non-ok result, e.g. HTTP 503) as retryable — matching
// spec.md §4.4/§4.6 ("treat HTTP 503 as a retryable outcome").
func Default503Retryable(err error, ok bool) bool {
	return err != nil || !ok
}

// Do runs fn up to p.Attempts times, sleeping an exponentially-growing,
// jittered backoff between attempts, stopping early once fn reports
// success (ok=true, err=nil) or ctx is canceled. It returns the last
// result/error observed.
func Do(ctx context.Context, p Policy, fn func(attempt int) (ok bool, err error)) (bool, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = Default503Retryable
	}

	var lastErr error
	var lastOK bool
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(p.Base, p.Jitter, attempt)
			select {
			case <-ctx.Done():
				return lastOK, ctx.Err()
			case <-time.After(delay):
			}
		}

		ok, err := fn(attempt)
		lastOK, lastErr = ok, err
		if ok && err == nil {
			return true, nil
		}
		if !isRetryable(err, ok) {
			return ok, err
		}
	}
	return lastOK, lastErr
}

// backoff computes base * 2^(attempt-1) plus uniform jitter in
// [-jitter, jitter), never returning a negative delay.
func backoff(base, jitter time.Duration, attempt int) time.Duration {
	mult := int64(1) << uint(attempt-1)
	delay := time.Duration(int64(base) * mult)
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(2*int64(jitter))) - jitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
