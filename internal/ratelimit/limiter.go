// Package ratelimit bounds how fast a single connection may send messages.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MessageLimiter is a token bucket over inbound messages: it refills at
// perSecond tokens per second and holds at most one second's worth, so a
// client may burst up to perSecond messages after being quiet.
//
// A limiter built with perSecond <= 0 allows everything. A MessageLimiter is
// safe for concurrent use.
type MessageLimiter struct {
	clock Clock
	lim   *rate.Limiter
}

func NewMessageLimiter(clock Clock, perSecond int) *MessageLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if perSecond <= 0 {
		return &MessageLimiter{clock: clock}
	}
	lim := rate.NewLimiter(rate.Limit(perSecond), perSecond)
	// Start full at the clock's notion of now rather than wall time.
	lim.SetLimitAt(clock.Now(), rate.Limit(perSecond))
	return &MessageLimiter{clock: clock, lim: lim}
}

// Allow consumes one token if available.
func (l *MessageLimiter) Allow() bool {
	if l == nil || l.lim == nil {
		return true
	}
	return l.lim.AllowN(l.clock.Now(), 1)
}
