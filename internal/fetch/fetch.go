// Package fetch is a static driver: it downloads the already-filtered result
// URL without running any scripts. In-page toggles are carried by the f[]
// parameters of the URL instead of being clicked.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/scraper"
)

var ErrNoContent = errors.New("no page loaded")

type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	// AllowedDomains restricts visits; empty allows any host.
	AllowedDomains []string
}

func DefaultOptions() Options {
	return Options{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.8",
		Timeout:        15 * time.Second,
		AllowedDomains: []string{"carzilla.de", "www.carzilla.de"},
	}
}

// Fetcher implements scraper.Driver on top of colly.
type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		opts:   opts,
		logger: logger.With("component", "fetch"),
	}
}

func (f *Fetcher) Name() string {
	return "static"
}

func (f *Fetcher) NewSession(ctx context.Context) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{opts: f.opts, logger: f.logger}, nil
}

type session struct {
	opts   Options
	logger *slog.Logger
	body   []byte
}

func (s *session) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.opts.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
	)
	if len(s.opts.AllowedDomains) > 0 {
		c.AllowedDomains = s.opts.AllowedDomains
	}
	c.SetRequestTimeout(s.opts.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept-Language", s.opts.AcceptLanguage)
		s.logger.Debug("visiting", "url", r.URL.String())
	})

	return c
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body []byte
	c := s.collector(ctx)
	c.OnResponse(func(r *colly.Response) {
		s.logger.Debug("received response", "status", r.StatusCode, "bytes", len(r.Body))
		body = r.Body
	})

	if err := c.Visit(url); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if body == nil {
		return ErrNoContent
	}

	s.body = body
	return nil
}

// ApplyFilters is a no-op: the static driver relies on the f[] parameters
// already present in the URL.
func (s *session) ApplyFilters(_ context.Context, filters []models.CheckboxFilter) (int, error) {
	if len(filters) > 0 {
		s.logger.Debug("filters carried by URL", "count", len(filters))
	}
	return 0, nil
}

func (s *session) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.body == nil {
		return "", ErrNoContent
	}
	return string(s.body), nil
}

func (s *session) Close() error {
	s.body = nil
	return nil
}
