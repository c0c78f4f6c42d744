package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/carzilla-scraper/internal/scraper"
)

var (
	_ scraper.Driver  = (*Browser)(nil)
	_ scraper.Session = (*Session)(nil)
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless, "headless by default")
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "de-DE", opts.Locale)
	assert.Equal(t, 15*time.Second, opts.NavigationTimeout)
	assert.Equal(t, 3*time.Second, opts.SettleDelay)
	assert.Equal(t, time.Second, opts.FilterDelay)
	assert.Equal(t, ".panel.panel-default", opts.ListingSelector)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, sleep(context.Background(), 0))
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
