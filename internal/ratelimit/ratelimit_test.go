package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWait(t *testing.T) {
	l := NewLimiter(0, 1, 0)

	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "unlimited bucket must not block")
}

func TestLimiterSpacesVisits(t *testing.T) {
	l := NewLimiter(20, 1, 0)

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestLimiterCancelled(t *testing.T) {
	l := NewLimiter(0.01, 1, 0)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestLimiterJitterBounded(t *testing.T) {
	l := NewLimiter(0, 1, 5*time.Millisecond)
	for range 20 {
		j := l.jitter()
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 5*time.Millisecond)
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffIndependentOfCallers(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 2)

	// Two searches retrying at the same time see the same schedule.
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, time.Second, b.Delay(1))
			assert.Equal(t, 2*time.Second, b.Delay(2))
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Second, b.Delay(1), "earlier retries do not stretch later searches")
}

func TestBackoffFixed(t *testing.T) {
	b := NewBackoff(2*time.Second, 20*time.Second, 1)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 2*time.Second, b.Delay(attempt))
	}
}
