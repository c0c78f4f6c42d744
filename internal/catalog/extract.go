package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	SearchFormURL = "https://www.carzilla.de/fahrzeugsuche"
	modelListURL  = "https://carzilla.de/Fahrzeuge/Fahrzeugliste"

	// The brand picker is the only select on the form with a long option list.
	minBrandOptions = 10

	modelSelectSelector = `select[name="mo"], select[name*="model"], select[id*="model"], select[id*="Model"]`
)

var ErrNoBrandSelect = errors.New("search form has no brand select")

// Page is the part of a browser session the extractor needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
}

// Asset is the on-disk form of a catalog.
type Asset struct {
	Version     string                       `json:"version"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Source      string                       `json:"source"`
	Brands      map[string]string            `json:"brands"`
	Models      map[string]map[string]string `json:"models"`
	Aliases     map[string]string            `json:"aliases"`
}

// Extractor rebuilds the catalog asset from the live search form.
type Extractor struct {
	page    Page
	formURL string
	listURL string
	logger  *slog.Logger
}

func NewExtractor(page Page, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		page:    page,
		formURL: SearchFormURL,
		listURL: modelListURL,
		logger:  logger.With("component", "catalog"),
	}
}

// Extract reads every brand from the form, then the model options of each
// brand. Aliases whose target brand disappeared are dropped. A brand whose
// model page fails keeps its id with no models.
func (e *Extractor) Extract(ctx context.Context, aliases map[string]string, now time.Time) (*Asset, error) {
	html, err := e.load(ctx, e.formURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load search form: %w", err)
	}

	brands, err := BrandOptions(html)
	if err != nil {
		return nil, err
	}

	a := &Asset{
		Version:     now.UTC().Format("2006-01-02"),
		GeneratedAt: now.UTC(),
		Source:      e.formURL,
		Brands:      brands,
		Models:      make(map[string]map[string]string),
		Aliases:     make(map[string]string),
	}

	for name, id := range brands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		html, err := e.load(ctx, e.modelURL(id))
		if err != nil {
			e.logger.Warn("failed to load models", "brand", name, "error", err)
			continue
		}
		models := ModelOptions(html)
		if len(models) > 0 {
			a.Models[name] = models
		}
		e.logger.Debug("brand extracted", "brand", name, "models", len(models))
	}

	for from, to := range aliases {
		if _, ok := brands[to]; ok {
			a.Aliases[from] = to
		}
	}

	e.logger.Info("catalog extracted", "brands", len(a.Brands), "brands_with_models", len(a.Models))
	return a, nil
}

func (e *Extractor) load(ctx context.Context, u string) (string, error) {
	if err := e.page.Navigate(ctx, u); err != nil {
		return "", err
	}
	return e.page.HTML(ctx)
}

func (e *Extractor) modelURL(brandID string) string {
	return e.listURL + "?m=" + url.QueryEscape(strings.TrimPrefix(brandID, optionValuePrefix))
}

// BrandOptions returns name -> option value of the first select with more
// than ten options.
func BrandOptions(html string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search form: %w", err)
	}

	var brands map[string]string
	doc.Find("select").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("option").Length() <= minBrandOptions {
			return true
		}
		brands = options(s)
		return false
	})
	if len(brands) == 0 {
		return nil, ErrNoBrandSelect
	}
	return brands, nil
}

// ModelOptions returns the options of the model select on a brand's result
// page. A select named for models wins; otherwise the first select after the
// leading brand picker with more than one option. An empty map means no model
// list.
func ModelOptions(html string) map[string]string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	if named := doc.Find(modelSelectSelector).First(); named.Length() > 0 {
		if models := options(named); len(models) > 0 {
			return models
		}
	}

	var models map[string]string
	doc.Find("select").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i == 0 || s.Find("option").Length() <= 1 {
			return true
		}
		models = options(s)
		return len(models) == 0
	})
	return models
}

func options(s *goquery.Selection) map[string]string {
	out := make(map[string]string)
	s.Find("option").Each(func(_ int, o *goquery.Selection) {
		val := strings.TrimSpace(o.AttrOr("value", ""))
		name := strings.Join(strings.Fields(o.Text()), " ")
		if val == "" || name == "" || val == "?" || strings.HasPrefix(val, "? ") {
			return
		}
		out[name] = val
	})
	return out
}

// Write encodes the asset in the layout of the embedded catalog.
func (a *Asset) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
