// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upstream

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrBreakerOpen is returned without any network call being attempted when
// the endpoint's breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the lifecycle state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed allows calls through.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the recovery timeout elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen allows exactly one trial call.
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerPolicy configures breaker behavior.
type BreakerPolicy struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing a
	// trial call.
	RecoveryTimeout time.Duration
}

// Breaker tracks consecutive failures for one upstream endpoint. It is the
// only cross-request mutable state in the pipeline besides the capability
// registry, so every transition happens under the mutex.
type Breaker struct {
	mu sync.Mutex

	endpoint string
	policy   BreakerPolicy
	now      func() time.Time

	failureCount int
	lastFailure  time.Time
	state        BreakerState
}

// NewBreaker creates a closed breaker for the given endpoint.
func NewBreaker(endpoint string, policy BreakerPolicy) *Breaker {
	return &Breaker{
		endpoint: endpoint,
		policy:   policy,
		now:      time.Now,
		state:    BreakerClosed,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// recovery timeout has elapsed it transitions to half-open and admits exactly
// one trial call; concurrent callers are rejected until the trial resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		// A trial call is already in flight.
		return ErrBreakerOpen
	default: // BreakerOpen
		if b.now().Sub(b.lastFailure) >= b.policy.RecoveryTimeout {
			b.state = BreakerHalfOpen
			log.Debugf("breaker %s: half-open, allowing trial call", b.endpoint)
			return nil
		}
		return ErrBreakerOpen
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		log.Debugf("breaker %s: closed after successful call", b.endpoint)
	}
	b.state = BreakerClosed
	b.failureCount = 0
}

// RecordFailure increments the consecutive failure count and opens the
// breaker at the threshold. A failure during the half-open trial reopens the
// breaker and restarts the cooldown clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen || b.failureCount >= b.policy.FailureThreshold {
		if b.state != BreakerOpen {
			log.Warnf("breaker %s: open after %d consecutive failures", b.endpoint, b.failureCount)
		}
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setClock swaps the time source for tests.
func (b *Breaker) setClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// BreakerGroup holds one breaker per logical upstream endpoint. Breakers are
// shared across requests to the same endpoint.
type BreakerGroup struct {
	mu       sync.Mutex
	policy   BreakerPolicy
	breakers map[string]*Breaker
}

// NewBreakerGroup creates an empty group using the given policy for every
// endpoint.
func NewBreakerGroup(policy BreakerPolicy) *BreakerGroup {
	return &BreakerGroup{
		policy:   policy,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for an endpoint, creating it closed on first use.
func (g *BreakerGroup) For(endpoint string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[endpoint]
	if !ok {
		b = NewBreaker(endpoint, g.policy)
		g.breakers[endpoint] = b
	}
	return b
}

// Snapshot returns the current state of every known breaker, keyed by
// endpoint. Intended for observability surfaces.
func (g *BreakerGroup) Snapshot() map[string]BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]BreakerState, len(g.breakers))
	for endpoint, b := range g.breakers {
		out[endpoint] = b.State()
	}
	return out
}
