package activity

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultThrottleInterval spaces outbound typing assertions.
const DefaultThrottleInterval = time.Second

// Throttle keeps a caller from sending a typing event on every keystroke:
// at most one send goes out per interval, the rest are skipped.
type Throttle struct {
	limiter *rate.Limiter
	send    func() bool
}

// NewThrottle wraps send. A non-positive interval uses DefaultThrottleInterval.
func NewThrottle(interval time.Duration, send func() bool) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		send:    send,
	}
}

// Keystroke records composing activity and reports whether a typing event
// was actually sent.
func (t *Throttle) Keystroke() bool {
	if !t.limiter.Allow() {
		return false
	}
	return t.send()
}
