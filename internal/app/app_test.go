package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/carzilla-scraper/internal/catalog"
	"github.com/maltedev/carzilla-scraper/internal/config"
	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/scraper"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Scraper: config.ScraperConfig{
			Driver:            config.DriverStatic,
			Budget:            2 * time.Second,
			MaxRetries:        1,
			BackoffFactor:     1,
			NavigationTimeout: time.Second,
		},
		Mapping: config.MappingConfig{
			PowerUnitThreshold: 200,
			HPToKW:             0.735,
			MaxYear:            2025,
		},
		Output: config.OutputConfig{
			DatasetFile: filepath.Join(t.TempDir(), "runs", "dataset.jsonl"),
		},
	}
}

func TestNewStaticPipeline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Service)
	require.NotNil(t, a.Dataset)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Relay)

	// Unsupported brands never reach the network but still land in the
	// dataset.
	env := a.Service.Search(context.Background(), &models.SearchRequest{Make: "Lucid"})
	assert.Equal(t, "apify://unsupported-search", env.Endpoint)

	entries, err := a.Dataset.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, env.RunID, entries[0].RunID)

	assert.NoError(t, a.Close())
}

func TestNewMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.json")

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "failed to load catalog")
}

type pageDriver struct {
	pages map[string]string
}

func (d *pageDriver) Name() string { return "pages" }

func (d *pageDriver) NewSession(ctx context.Context) (scraper.Session, error) {
	return &pageSession{pages: d.pages}, nil
}

type pageSession struct {
	pages map[string]string
	html  string
}

func (s *pageSession) Navigate(ctx context.Context, url string) error {
	html, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("no page for %s", url)
	}
	s.html = html
	return nil
}

func (s *pageSession) ApplyFilters(ctx context.Context, filters []models.CheckboxFilter) (int, error) {
	return 0, nil
}

func (s *pageSession) HTML(ctx context.Context) (string, error) { return s.html, nil }

func (s *pageSession) Close() error { return nil }

func TestRefreshCatalog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat, err := catalog.Default()
	require.NoError(t, err)

	var form strings.Builder
	form.WriteString(`<select name="m">`)
	for i, name := range []string{"Audi", "BMW", "Cupra", "Dacia", "Fiat", "Ford", "Kia", "MINI", "Opel", "Seat", "Volkswagen"} {
		fmt.Fprintf(&form, `<option value="number:%d">%s</option>`, i+1, name)
	}
	form.WriteString(`</select>`)

	tests := []struct {
		name    string
		form    string
		wantErr bool
	}{
		{name: "writes validated asset", form: form.String()},
		{name: "keeps file on extraction failure", form: `<p>Wartung</p>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.json")
			driver := &pageDriver{pages: map[string]string{
				catalog.SearchFormURL: tt.form,
				"https://carzilla.de/Fahrzeuge/Fahrzeugliste?m=2": `<select name="mo"><option value="1652">530</option><option value="77">X5</option></select>`,
			}}
			a := &App{Catalog: cat, Driver: driver, logger: logger}

			refreshed, err := a.RefreshCatalog(context.Background(), path)
			if tt.wantErr {
				require.Error(t, err)
				assert.NoFileExists(t, path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"530", "X5"}, refreshed.Models("BMW"))
			assert.Equal(t, "Volkswagen", refreshed.ResolveBrand("VW"))
			assert.Equal(t, "MINI", refreshed.ResolveBrand("Mini"))
			assert.Equal(t, "Ssangyong", refreshed.ResolveBrand("Ssangyong"), "alias to a vanished brand is dropped")

			loaded, err := catalog.LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, refreshed.Brands(), loaded.Brands())
		})
	}
}
