package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute applies when a provider sets no rate_limit.
const DefaultRequestsPerMinute = 150

// RateLimiter paces calls to one provider. Tokens refill continuously at
// rpm/60 per second up to a burst of rpm. After the provider answers 429 the
// limiter holds every caller until the cooldown passes.
type RateLimiter struct {
	mu  sync.Mutex
	now func() time.Time

	rpm        int
	tokens     float64
	refilledAt time.Time
	pausedTill time.Time

	consumed   int64
	waited     time.Duration
	throttled  int64
	throttleAt time.Time
}

// RateLimiterStatus is a snapshot of a limiter, shown on /status.
type RateLimiterStatus struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	Available         int           `json:"available"`
	NextToken         time.Duration `json:"next_token"`
	PausedFor         time.Duration `json:"paused_for,omitempty"`
	Consumed          int64         `json:"consumed"`
	Waited            time.Duration `json:"waited"`
	Throttled         int64         `json:"throttled"`
	LastThrottle      time.Time     `json:"last_throttle,omitempty"`
}

// Limited is implemented by clients that pace themselves.
type Limited interface {
	Limiter() *RateLimiter
}

// NewRateLimiter creates a limiter allowing rpm requests per minute.
func NewRateLimiter(rpm int) *RateLimiter {
	return newRateLimiter(rpm, time.Now)
}

func newRateLimiter(rpm int, now func() time.Time) *RateLimiter {
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		now:        now,
		rpm:        rpm,
		tokens:     float64(rpm),
		refilledAt: now(),
	}
}

// Wait blocks until the call may proceed or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := r.reserve()
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
			r.mu.Lock()
			r.waited += d
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token if one is available right now.
func (r *RateLimiter) TryConsume() bool {
	return r.reserve() == 0
}

// reserve takes a token and returns 0, or returns how long to wait first.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.pausedTill) {
		return r.pausedTill.Sub(now)
	}
	r.refill(now)
	if r.tokens >= 1 {
		r.tokens--
		r.consumed++
		return 0
	}
	return r.untilToken()
}

// Throttle records a 429 from the provider. With a retry-after the bucket
// empties and callers are held for that long.
func (r *RateLimiter) Throttle(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.throttled++
	r.throttleAt = now
	if retryAfter > 0 {
		r.tokens = 0
		r.refilledAt = now
		if until := now.Add(retryAfter); until.After(r.pausedTill) {
			r.pausedTill = until
		}
	}
}

// Status returns a snapshot of the limiter.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.refill(now)
	s := RateLimiterStatus{
		RequestsPerMinute: r.rpm,
		Available:         int(r.tokens),
		NextToken:         r.untilToken(),
		Consumed:          r.consumed,
		Waited:            r.waited,
		Throttled:         r.throttled,
		LastThrottle:      r.throttleAt,
	}
	if now.Before(r.pausedTill) {
		s.PausedFor = r.pausedTill.Sub(now)
	}
	return s
}

// Caller holds r.mu.
func (r *RateLimiter) refill(now time.Time) {
	if elapsed := now.Sub(r.refilledAt); elapsed > 0 {
		r.tokens += elapsed.Seconds() * r.perSecond()
		r.refilledAt = now
	}
	if burst := float64(r.rpm); r.tokens > burst {
		r.tokens = burst
	}
}

// Caller holds r.mu.
func (r *RateLimiter) untilToken() time.Duration {
	if r.tokens >= 1 {
		return 0
	}
	secs := (1 - r.tokens) / r.perSecond()
	return time.Duration(secs * float64(time.Second))
}

func (r *RateLimiter) perSecond() float64 {
	return float64(r.rpm) / 60
}
