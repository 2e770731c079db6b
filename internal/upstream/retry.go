// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upstream

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryPolicy bounds the retry loop around one logical upstream call.
type RetryPolicy struct {
	// MaxAttempts is the total attempt count including the first call.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff: delay for attempt n is
	// BaseDelay * 2^(n-1), unless the provider supplied Retry-After.
	BaseDelay time.Duration
}

// DefaultRetryPolicy matches the documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// SleepFunc abstracts backoff waiting so tests can run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// defaultSleep waits for the duration or until the context is cancelled.
func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the delay before the given retry. attempt is the 1-based
// number of the attempt that just failed. A provider-supplied retryAfter
// overrides the exponential schedule.
func (p RetryPolicy) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Do runs fn up to MaxAttempts times. Only classified retryable errors are
// retried; everything else fails on first occurrence. A breaker-open error
// aborts immediately since retrying the same open endpoint cannot help.
// Returns the attempt count actually used alongside the final error.
func (p RetryPolicy) Do(ctx context.Context, sleep SleepFunc, fn func(attempt int) error) (int, error) {
	if sleep == nil {
		sleep = defaultSleep
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if errors.Is(lastErr, ErrBreakerOpen) {
			return attempt, lastErr
		}

		var ue *UpstreamError
		if !errors.As(lastErr, &ue) || !ue.Retryable {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			return attempt, lastErr
		}

		delay := p.Backoff(attempt, ue.RetryAfter)
		log.Debugf("upstream retry: attempt %d failed (%s), backing off %s", attempt, ue.Kind, delay)
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, lastErr
}
