package scraper

import (
	"context"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

// Driver opens page sessions against the listing site.
type Driver interface {
	NewSession(ctx context.Context) (Session, error)
	Name() string
}

// Session is one loaded result page. Implementations are used by a single
// search at a time.
type Session interface {
	// Navigate performs one navigation attempt; the service retries.
	Navigate(ctx context.Context, url string) error
	// ApplyFilters toggles in-page filters and reports how many took effect.
	// Individual filter failures are not errors.
	ApplyFilters(ctx context.Context, filters []models.CheckboxFilter) (int, error)
	// HTML returns the current DOM snapshot.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Sink receives every finished envelope. Sinks must not modify it.
type Sink interface {
	Push(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope) error
	Name() string
}
