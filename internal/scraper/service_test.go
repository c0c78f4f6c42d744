package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/carzilla-scraper/internal/catalog"
	"github.com/maltedev/carzilla-scraper/internal/mapping"
	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/parser"
)

const listingPage = `<html><body>
<div class="panel panel-default">
  <h3 class="panel-title cc-title">BMW 530d Touring</h3>
  <div class="cc-price">54.440 €</div>
  <p>MwSt. ausweisbar</p>
  <p>EZ März 2021<br>45.000 km<br>210 kW (286 PS)<br>Diesel<br>Automatik<br>Schwarz</p>
</div>
</body></html>`

type fakeSession struct {
	navErrs   []error
	navCalls  int
	block     bool
	filters   []models.CheckboxFilter
	filterErr error
	html      string
	htmlPanic bool
	closed    bool
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.navCalls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if len(f.navErrs) >= f.navCalls {
		return f.navErrs[f.navCalls-1]
	}
	return nil
}

func (f *fakeSession) ApplyFilters(ctx context.Context, filters []models.CheckboxFilter) (int, error) {
	f.filters = filters
	if f.filterErr != nil {
		return 0, f.filterErr
	}
	return len(filters), nil
}

func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	if f.htmlPanic {
		panic("page crashed")
	}
	return f.html, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeDriver struct {
	session  *fakeSession
	sessions int
}

func (d *fakeDriver) NewSession(ctx context.Context) (Session, error) {
	d.sessions++
	return d.session, nil
}

func (d *fakeDriver) Name() string {
	return "fake"
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Push(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope) error {
	args := m.Called(ctx, req, env)
	return args.Error(0)
}

func (m *mockSink) Name() string {
	return "mock"
}

func newTestService(t *testing.T, driver Driver, sinks ...Sink) *Service {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := mapping.DefaultPolicy()
	policy.MaxYear = 2025

	popts := parser.DefaultOptions()
	popts.MaxYear = 2025

	opts := DefaultOptions()
	opts.RetryDelay = time.Millisecond
	opts.Budget = 2 * time.Second

	return NewService(
		driver,
		mapping.NewMapper(cat, policy, logger),
		mapping.NewChecker(cat),
		parser.NewListingParser(popts, logger),
		nil,
		opts,
		logger,
		sinks...,
	)
}

func TestSearchSuccess(t *testing.T) {
	session := &fakeSession{html: listingPage}
	driver := &fakeDriver{session: session}
	sink := &mockSink{}
	sink.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	svc := newTestService(t, driver, sink)

	req := &models.SearchRequest{Make: "BMW", Model: "530", PriceMin: models.IntPtr(20000), PriceMax: models.IntPtr(50000)}
	env := svc.Search(context.Background(), req)

	require.NotNil(t, env)
	assert.Empty(t, env.Error)
	assert.NotEmpty(t, env.RunID)
	assert.True(t, strings.HasPrefix(env.Endpoint, "apify://carzilla-"))
	assert.False(t, strings.HasPrefix(env.Endpoint, "apify://carzilla-error-"))
	assert.Contains(t, env.SearchURL, "m=9&mo=1652&pf=20000&pt=45000")
	assert.True(t, strings.HasSuffix(env.SearchURL, "&rp=20&sf=prices.SalePrice.value"))
	assert.Equal(t, 1, env.MaxPages)

	require.Len(t, env.Items, 1)
	assert.Equal(t, "1", env.Total)
	assert.Equal(t, "BMW", env.Items[0].Make)
	assert.Equal(t, "54440", env.Items[0].PriceBruto)
	assert.Equal(t, "2021-03", env.Items[0].FirstRegistration)

	require.NotNil(t, env.ParametersUsed)
	assert.Equal(t, "BMW", env.ParametersUsed.Make)
	assert.Equal(t, 20000, *env.ParametersUsed.PriceRange.Min)
	assert.Equal(t, 50000, *env.ParametersUsed.PriceRange.Max)

	assert.Equal(t, 1, session.navCalls)
	assert.True(t, session.closed)
	sink.AssertExpectations(t)
}

func TestSearchReportsResolvedBrand(t *testing.T) {
	tests := []struct {
		name string
		make string
		want string
	}{
		{name: "alias", make: "VW", want: "Volkswagen"},
		{name: "alias with own id", make: "Mini", want: "MINI"},
		{name: "canonical", make: "BMW", want: "BMW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := &fakeDriver{session: &fakeSession{html: listingPage}}
			sink := &mockSink{}
			sink.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

			env := newTestService(t, driver, sink).Search(context.Background(), &models.SearchRequest{Make: tt.make})

			require.NotNil(t, env)
			assert.Empty(t, env.Error)
			require.NotNil(t, env.ParametersUsed)
			assert.Equal(t, tt.want, env.ParametersUsed.Make)
		})
	}
}

func TestSearchUnsupportedBrand(t *testing.T) {
	driver := &fakeDriver{session: &fakeSession{}}
	sink := &mockSink{}
	sink.On("Push", mock.Anything, mock.Anything, mock.MatchedBy(func(env *models.ResultEnvelope) bool {
		return env.Endpoint == "apify://unsupported-search"
	})).Return(nil).Once()

	svc := newTestService(t, driver, sink)
	env := svc.Search(context.Background(), &models.SearchRequest{Make: "Lucid", Model: "Air"})

	assert.Equal(t, "apify://unsupported-search", env.Endpoint)
	assert.Equal(t, "0", env.Total)
	assert.NotNil(t, env.Items)
	assert.Empty(t, env.Items)
	assert.Contains(t, env.Error, "Lucid")
	assert.NotEmpty(t, env.Alternatives)
	assert.LessOrEqual(t, len(env.Alternatives), 3)
	assert.Empty(t, env.SearchURL)
	assert.Zero(t, driver.sessions, "no network work for unsupported brands")
	sink.AssertExpectations(t)
}

func TestSearchMissingMake(t *testing.T) {
	driver := &fakeDriver{session: &fakeSession{}}
	svc := newTestService(t, driver)

	for _, req := range []*models.SearchRequest{nil, {}} {
		env := svc.Search(context.Background(), req)
		assert.Equal(t, "apify://unsupported-search", env.Endpoint)
		assert.Equal(t, models.ErrMissingMake.Error(), env.Error)
		assert.Equal(t, "0", env.Total)
	}
	assert.Zero(t, driver.sessions)
}

func TestSearchUnknownModelWarns(t *testing.T) {
	session := &fakeSession{html: listingPage}
	svc := newTestService(t, &fakeDriver{session: session})

	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW", Model: "X9"})

	assert.Empty(t, env.Error)
	assert.Contains(t, env.Warning, "X9")
	assert.Equal(t, []string{"530"}, env.AvailableModels)
	assert.NotContains(t, env.SearchURL, "&mo=")
}

func TestSearchAppliesFilters(t *testing.T) {
	session := &fakeSession{html: listingPage}
	svc := newTestService(t, &fakeDriver{session: session})

	req := &models.SearchRequest{
		Make:           "BMW",
		Transmission:   "Automático",
		FourWheelDrive: models.StringPtr("1"),
	}
	env := svc.Search(context.Background(), req)

	require.Len(t, session.filters, 2)
	assert.Equal(t, "tm-2", session.filters[0].ID)
	assert.Equal(t, "14", session.filters[1].ID)
	assert.Contains(t, env.SearchURL, "&f[]=tm-2&f[]=14")
	require.NotNil(t, env.ParametersUsed)
	assert.Equal(t, 2, env.ParametersUsed.FiltersApplied)
}

func TestSearchRetriesNavigation(t *testing.T) {
	session := &fakeSession{
		html:    listingPage,
		navErrs: []error{errors.New("timeout"), errors.New("timeout")},
	}
	svc := newTestService(t, &fakeDriver{session: session})

	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW"})

	assert.Empty(t, env.Error)
	assert.Equal(t, 3, session.navCalls)
	assert.Len(t, env.Items, 1)
}

func TestSearchNavigationExhausted(t *testing.T) {
	boom := errors.New("net::ERR_CONNECTION_RESET")
	session := &fakeSession{
		html:    listingPage,
		navErrs: []error{boom, boom, boom},
	}
	svc := newTestService(t, &fakeDriver{session: session})

	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW"})

	assert.Equal(t, 3, session.navCalls)
	assert.True(t, strings.HasPrefix(env.Endpoint, "apify://carzilla-error-"))
	assert.Contains(t, env.Error, ErrNavigation.Error())
	assert.Contains(t, env.Error, boom.Error())
	assert.True(t, env.PartialResults, "items already on the page are kept")
	assert.Len(t, env.Items, 1)
	assert.Equal(t, "1", env.Total)
	assert.NotEmpty(t, env.SearchURL)
	assert.True(t, session.closed)
}

func TestSearchFilterFailureKeepsPartialResults(t *testing.T) {
	session := &fakeSession{html: listingPage, filterErr: context.DeadlineExceeded}
	svc := newTestService(t, &fakeDriver{session: session})

	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW", FourWheelDrive: models.StringPtr("1")})

	assert.Contains(t, env.Error, "failed to apply filters")
	assert.True(t, env.PartialResults)
	assert.Len(t, env.Items, 1)
}

func TestSearchBudgetExceeded(t *testing.T) {
	session := &fakeSession{block: true}
	svc := newTestService(t, &fakeDriver{session: session})
	svc.opts.Budget = 20 * time.Millisecond

	start := time.Now()
	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW"})

	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, env.Error, ErrNavigation.Error())
	assert.False(t, env.PartialResults)
	assert.Equal(t, "0", env.Total)
	assert.Equal(t, 1, session.navCalls)
}

func TestSearchRecoversPanic(t *testing.T) {
	session := &fakeSession{htmlPanic: true}
	sink := &mockSink{}
	sink.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	svc := newTestService(t, &fakeDriver{session: session}, sink)

	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW"})

	require.NotNil(t, env)
	assert.Contains(t, env.Error, "internal error")
	assert.NotEmpty(t, env.RunID)
	assert.Equal(t, "0", env.Total)
	sink.AssertExpectations(t)
}

func TestSearchSinkErrorIgnored(t *testing.T) {
	failing := &mockSink{}
	failing.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	second := &mockSink{}
	second.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	svc := newTestService(t, &fakeDriver{session: &fakeSession{html: listingPage}}, failing, second)
	env := svc.Search(context.Background(), &models.SearchRequest{Make: "BMW"})

	assert.Empty(t, env.Error)
	failing.AssertExpectations(t)
	second.AssertExpectations(t)
}
