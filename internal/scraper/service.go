package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/carzilla-scraper/internal/mapping"
	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/parser"
	"github.com/maltedev/carzilla-scraper/internal/ratelimit"
)

var (
	ErrUnsupportedBrand = errors.New("brand not supported")
	ErrNoSearchURL      = errors.New("search URL could not be built")
	ErrNavigation       = errors.New("navigation failed")
)

const (
	endpointUnsupported = "apify://unsupported-search"
	endpointInvalidURL  = "apify://invalid-url"
	endpointPrefix      = "apify://carzilla-"
	endpointErrorPrefix = "apify://carzilla-error-"

	salvageTimeout = 3 * time.Second
)

type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	// BackoffFactor grows RetryDelay per attempt; 1 keeps it fixed.
	BackoffFactor float64
	// Budget bounds one whole search, navigation retries included.
	Budget time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		RetryDelay:    2 * time.Second,
		BackoffFactor: 1,
		Budget:        20 * time.Second,
	}
}

// Service runs one search end to end: support check, URL mapping, page
// load, filter application and extraction.
type Service struct {
	driver  Driver
	mapper  *mapping.Mapper
	checker *mapping.Checker
	parser  parser.Parser
	limiter ratelimit.RateLimiter
	backoff *ratelimit.Backoff
	sinks   []Sink
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(
	driver Driver,
	mapper *mapping.Mapper,
	checker *mapping.Checker,
	p parser.Parser,
	limiter ratelimit.RateLimiter,
	opts Options,
	logger *slog.Logger,
	sinks ...Sink,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(0, 1, 0)
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	return &Service{
		driver:  driver,
		mapper:  mapper,
		checker: checker,
		parser:  p,
		limiter: limiter,
		backoff: ratelimit.NewBackoff(opts.RetryDelay, opts.Budget, opts.BackoffFactor),
		sinks:   sinks,
		opts:    opts,
		logger:  logger.With("component", "scraper", "driver", driver.Name()),
		now:     time.Now,
	}
}

// Search never fails: every outcome, including panics, is reported through
// the returned envelope. The envelope is pushed to all sinks before return.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (env *models.ResultEnvelope) {
	start := s.now()
	runID := uuid.NewString()
	if req == nil {
		req = &models.SearchRequest{}
	}

	logger := s.logger.With("run_id", runID, "make", req.Make, "model", req.Model)

	var partial []models.ListingRecord
	defer func() {
		if r := recover(); r != nil {
			logger.Error("search panicked", "panic", r)
			env = s.failure(start, "", partial, fmt.Errorf("internal error: %v", r))
		}
		env.RunID = runID
		s.push(ctx, req, env, logger)
	}()

	verdict := s.checker.IsSearchSupported(req.Make, req.Model)
	if !verdict.Supported {
		reason := verdict.Reason
		if err := req.Validate(); err != nil {
			reason = err.Error()
		}
		logger.Info("search not supported", "error", ErrUnsupportedBrand, "reason", reason, "alternatives", verdict.Alternatives)

		env = models.NewEnvelope("", nil)
		env.Endpoint = endpointUnsupported
		env.Error = reason
		env.Alternatives = verdict.Alternatives
		env.ExecutionTimeMS = s.elapsed(start)
		return env
	}
	if verdict.Warning != "" {
		logger.Info("searching without model", "warning", verdict.Warning)
	}

	searchURL, ok := s.mapper.BuildSearchURL(req)
	if !ok {
		logger.Warn("no search URL", "error", ErrNoSearchURL)
		env = models.NewEnvelope("", nil)
		env.Endpoint = endpointInvalidURL
		env.Error = ErrNoSearchURL.Error()
		env.ExecutionTimeMS = s.elapsed(start)
		return env
	}
	logger.Info("built search URL", "url", searchURL)

	filters := s.mapper.CheckboxFilters(req)
	brand := s.checker.ResolveBrand(req.Make)

	items, err := s.run(ctx, searchURL, filters, brand, logger, &partial)
	if err != nil {
		logger.Error("search failed", "error", err, "partial", len(partial))
		env = s.failure(start, searchURL, partial, err)
		env.Warning = verdict.Warning
		return env
	}

	env = models.NewEnvelope("", items)
	env.Endpoint = endpointPrefix + strconv.FormatInt(start.UnixMilli(), 10)
	env.SearchURL = searchURL
	env.Warning = verdict.Warning
	env.AvailableModels = verdict.AvailableModels
	env.ParametersUsed = &models.ParametersUsed{
		Make:           brand,
		Model:          req.Model,
		PriceRange:     models.PriceRange{Min: req.PriceMin, Max: req.PriceMax},
		FiltersApplied: len(filters),
	}
	env.ExecutionTimeMS = s.elapsed(start)

	logger.Info("search finished", "items", len(items), "elapsed_ms", env.ExecutionTimeMS)
	return env
}

func (s *Service) run(
	ctx context.Context,
	searchURL string,
	filters []models.CheckboxFilter,
	brand string,
	logger *slog.Logger,
	partial *[]models.ListingRecord,
) ([]models.ListingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Budget)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	session, err := s.driver.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	extract := parser.ExtractContext{Make: brand}

	if err := s.navigate(ctx, session, searchURL, logger); err != nil {
		*partial = s.salvage(ctx, session, extract, logger)
		return nil, err
	}

	applied, err := session.ApplyFilters(ctx, filters)
	if err != nil {
		*partial = s.salvage(ctx, session, extract, logger)
		return nil, fmt.Errorf("failed to apply filters: %w", err)
	}
	logger.Info("filters applied", "requested", len(filters), "applied", applied)

	html, err := session.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	items, err := s.parser.ParseListings(html, extract)
	if err != nil {
		return nil, fmt.Errorf("failed to extract listings: %w", err)
	}
	*partial = items

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search budget exceeded: %w", err)
	}
	return items, nil
}

// navigate makes up to MaxRetries attempts with a backoff between them.
func (s *Service) navigate(ctx context.Context, session Session, url string, logger *slog.Logger) error {
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		attempts = attempt
		lastErr = session.Navigate(ctx, url)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			break
		}
		if attempt == s.opts.MaxRetries {
			break
		}

		delay := s.backoff.Delay(attempt)
		logger.Warn("retrying navigation", "attempt", attempt, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNavigation, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrNavigation, attempts, lastErr)
}

// salvage extracts whatever the session still holds after a failure.
func (s *Service) salvage(ctx context.Context, session Session, extract parser.ExtractContext, logger *slog.Logger) []models.ListingRecord {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), salvageTimeout)
	defer cancel()

	html, err := session.HTML(ctx)
	if err != nil || html == "" {
		return nil
	}
	items, err := s.parser.ParseListings(html, extract)
	if err != nil {
		logger.Debug("salvage extraction failed", "error", err)
		return nil
	}
	if len(items) > 0 {
		logger.Info("salvaged partial results", "items", len(items))
	}
	return items
}

func (s *Service) failure(start time.Time, searchURL string, partial []models.ListingRecord, err error) *models.ResultEnvelope {
	env := models.NewEnvelope("", partial)
	env.Endpoint = endpointErrorPrefix + strconv.FormatInt(start.UnixMilli(), 10)
	env.SearchURL = searchURL
	env.Error = err.Error()
	env.PartialResults = len(partial) > 0
	env.ExecutionTimeMS = s.elapsed(start)
	return env
}

func (s *Service) push(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range s.sinks {
		if err := sink.Push(ctx, req, env); err != nil {
			logger.Error("failed to push results", "sink", sink.Name(), "error", err)
		}
	}
}

func (s *Service) elapsed(start time.Time) int64 {
	return s.now().Sub(start).Milliseconds()
}
