package wordimpact

import (
	"sync"
	"time"
)

// DisconnectReason is the transport-level cause of a lost connection.
type DisconnectReason string

const (
	ReasonServerDisconnect DisconnectReason = "io server disconnect"
	ReasonClientDisconnect DisconnectReason = "io client disconnect"
	ReasonTransportClose   DisconnectReason = "transport close"
	ReasonTransportError   DisconnectReason = "transport error"
	ReasonPingTimeout      DisconnectReason = "ping timeout"
)

// Retryable reports whether the application policy should reconnect after a
// disconnect with this reason. An explicit local Disconnect never is.
func (r DisconnectReason) Retryable() bool {
	switch r {
	case ReasonServerDisconnect, ReasonTransportClose, ReasonTransportError, ReasonPingTimeout:
		return true
	}
	return false
}

// ============================================================================
// Reconnection Policy
// ============================================================================

// ReconnectPolicy schedules application-level reconnects with exponential
// backoff: delay(n) = min(2^n * base, max) for n = 1..maxAttempts.
//
// It holds at most one pending timer.
type ReconnectPolicy struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	scheduler   Scheduler

	mu      sync.Mutex
	attempt int
	timer   Timer
}

// NewReconnectPolicy creates a policy. Zero values select base 1s, max 30s
// and 10 attempts.
func NewReconnectPolicy(base, max time.Duration, maxAttempts int, scheduler Scheduler) *ReconnectPolicy {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if scheduler == nil {
		scheduler = SystemScheduler
	}
	return &ReconnectPolicy{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
		scheduler:   scheduler,
	}
}

// Delay returns the backoff for the given attempt number.
func (p *ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.maxDelay {
			return p.maxDelay
		}
	}
	return d
}

// Schedule records a failure and arms a retry timer that calls fn. It
// returns the attempt number and delay, or ok=false once the ceiling is
// exceeded, in which case the counter is reset so a later manual connect
// starts the cycle again from attempt 1.
func (p *ReconnectPolicy) Schedule(fn func()) (attempt int, delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempt++
	if p.attempt > p.maxAttempts {
		exhausted := p.attempt - 1
		p.attempt = 0
		p.stopLocked()
		return exhausted, 0, false
	}

	attempt = p.attempt
	delay = p.Delay(attempt)
	p.stopLocked()

	var t Timer
	t = p.scheduler.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.timer != t {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()
		fn()
	})
	p.timer = t
	return attempt, delay, true
}

// Reset clears the attempt counter and any pending retry. Called on a
// successful connect and on explicit disconnect.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
	p.stopLocked()
}

// Attempt returns the number of consecutive failures recorded.
func (p *ReconnectPolicy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}

// Pending reports whether a retry timer is armed.
func (p *ReconnectPolicy) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

func (p *ReconnectPolicy) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Cancel stops a pending retry without touching the attempt counter.
func (p *ReconnectPolicy) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}
