package usecase

import "time"

// PollState drives the adaptive polling interval of the live-price loop.
// Transient errors keep the current pace, rate limits back off, and the
// first success after a backoff restores the normal pace.
type PollState struct {
	normal   time.Duration
	max      time.Duration
	interval time.Duration
	limited  bool
}

func NewPollState(normal, max time.Duration) *PollState {
	return &PollState{normal: normal, max: max, interval: normal}
}

// Backoff applies a rate-limit signal and returns the next interval. A
// server-advised retry delay wins over doubling; both cap at the maximum.
func (p *PollState) Backoff(retryAfter time.Duration) time.Duration {
	next := p.interval * 2
	if retryAfter > 0 {
		next = retryAfter
	}
	if next > p.max {
		next = p.max
	}
	p.interval = next
	p.limited = true
	return p.interval
}

// Recover resets to the normal interval after a successful fetch and
// reports whether a backoff was actually in effect.
func (p *PollState) Recover() (time.Duration, bool) {
	wasLimited := p.limited
	p.interval = p.normal
	p.limited = false
	return p.interval, wasLimited
}

// Keep returns the current interval unchanged.
func (p *PollState) Keep() time.Duration {
	return p.interval
}

// Limited reports whether the loop is currently backing off.
func (p *PollState) Limited() bool {
	return p.limited
}

// Interval returns the current polling interval.
func (p *PollState) Interval() time.Duration {
	return p.interval
}
