package util

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the default minimum time between requests
const DefaultInterval = 100 * time.Millisecond

// maxInterval caps how far backoff can stretch the interval
const maxInterval = 5 * time.Second

// Pacer spaces outbound requests so a sync run does not hammer either
// server. One request is released per interval; the interval grows when
// the server pushes back and resets once requests succeed again.
type Pacer struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
	base     time.Duration
}

// NewPacer creates a Pacer with the given minimum interval between requests
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pacer{
		interval: interval,
		base:     interval,
	}
}

// Wait blocks until the next request slot or context cancellation
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	if p.next.Before(now) {
		p.next = now
	}
	wait := p.next.Sub(now)
	p.next = p.next.Add(p.interval)
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff widens the interval after a server push-back (HTTP 429) and
// holds the next request back by the full delay. Honors the server's
// Retry-After when it is longer than our own backoff.
func (p *Pacer) Backoff(retryAfter time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.interval = time.Duration(float64(p.interval) * 1.5)
	if p.interval > maxInterval {
		p.interval = maxInterval
	}

	delay := p.interval
	if retryAfter > delay {
		delay = retryAfter
	}

	earliest := time.Now().Add(delay)
	if earliest.After(p.next) {
		p.next = earliest
	}
	return delay
}

// Reset restores the minimum interval
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = p.base
}

// Interval returns the current interval
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}
