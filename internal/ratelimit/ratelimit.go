package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Limiter spaces site visits: a token bucket caps the sustained rate and an
// optional random jitter is added on top of every granted token.
type Limiter struct {
	bucket    *rate.Limiter
	maxJitter time.Duration
	mu        sync.Mutex
	rnd       *rand.Rand
}

// NewLimiter allows perSecond visits with the given burst. A non-positive
// perSecond disables the bucket.
func NewLimiter(perSecond float64, burst int, maxJitter time.Duration) *Limiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:    rate.NewLimiter(limit, burst),
		maxJitter: maxJitter,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	jitter := l.jitter()
	if jitter <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

func (l *Limiter) jitter() time.Duration {
	if l.maxJitter <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.rnd.Int63n(int64(l.maxJitter)))
}

// Backoff computes retry delays from the attempt number alone, so one value
// can be shared by concurrent callers. Each retry grows the delay by factor
// up to max.
type Backoff struct {
	base   time.Duration
	max    time.Duration
	factor float64
}

func NewBackoff(base, max time.Duration, factor float64) *Backoff {
	if factor < 1 {
		factor = 1
	}
	return &Backoff{base: base, max: max, factor: factor}
}

// Delay returns the wait before retry number attempt (1-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	d := float64(b.base)
	for i := 1; i < attempt; i++ {
		d *= b.factor
		if b.max > 0 && time.Duration(d) >= b.max {
			return b.max
		}
	}
	return time.Duration(d)
}
