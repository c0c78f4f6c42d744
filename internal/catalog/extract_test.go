package catalog

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage serves canned HTML per URL.
type fakePage struct {
	pages   map[string]string
	current string
	visited []string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.visited = append(p.visited, url)
	if _, ok := p.pages[url]; !ok {
		return fmt.Errorf("status 404 for %s", url)
	}
	p.current = url
	return nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return p.pages[p.current], nil
}

func brandForm() string {
	var b strings.Builder
	b.WriteString(`<form><select name="m"><option value="">Alle Marken</option>`)
	brands := [][2]string{
		{"number:6", "Audi"}, {"number:9", "BMW"}, {"number:336", "Cupra"},
		{"number:47", "Mercedes-Benz"}, {"number:52", "MINI"}, {"number:60", "Porsche"},
		{"number:71", "SSangYong"}, {"number:177", "Tesla"}, {"number:74", "Volkswagen"},
		{"number:178", "Abarth"},
	}
	for _, br := range brands {
		fmt.Fprintf(&b, `<option value="%s"> %s </option>`, br[0], br[1])
	}
	b.WriteString(`</select><select name="pf"><option value="1000">1.000</option></select></form>`)
	return b.String()
}

const bmwModels = `<select name="m"><option value="number:9">BMW</option></select>
<select id="sortOrder"><option value="price">Preis</option><option value="km">Kilometer</option></select>
<select name="mo"><option value="? undefined:undefined ?"></option><option value="">Alle Modelle</option>
<option value="1652">530</option><option value="6000123">X5</option><option value="6000456">i4</option></select>`

func TestBrandOptions(t *testing.T) {
	brands, err := BrandOptions(brandForm())
	require.NoError(t, err)

	assert.Len(t, brands, 10)
	assert.Equal(t, "number:9", brands["BMW"], "names are trimmed")
	assert.NotContains(t, brands, "Alle Marken")

	tests := []struct {
		name string
		html string
	}{
		{name: "no select", html: `<form><input name="m"></form>`},
		{name: "short selects only", html: `<select><option value="1">A</option><option value="2">B</option></select>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BrandOptions(tt.html)
			assert.ErrorIs(t, err, ErrNoBrandSelect)
		})
	}
}

func TestModelOptions(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected map[string]string
	}{
		{
			name:     "named model select",
			html:     bmwModels,
			expected: map[string]string{"530": "1652", "X5": "6000123", "i4": "6000456"},
		},
		{
			name: "first populated select after the brand picker",
			html: `<select><option value="number:60">Porsche</option></select>
<select><option value="">Alle</option></select>
<select><option value="30">Cayenne</option><option value="31">Macan</option></select>`,
			expected: map[string]string{"Cayenne": "30", "Macan": "31"},
		},
		{
			name:     "no model list",
			html:     `<select><option value="number:1">AC</option></select>`,
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ModelOptions(tt.html)
			if tt.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExtractorBuildsLoadableAsset(t *testing.T) {
	page := &fakePage{pages: map[string]string{
		SearchFormURL:         brandForm(),
		modelListURL + "?m=9": bmwModels,
		modelListURL + "?m=60": `<select><option value="number:60">Porsche</option></select>
<select name="mo"><option value="30">Cayenne</option><option value="31">Macan</option></select>`,
	}}
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	a, err := NewExtractor(page, nil).Extract(context.Background(), map[string]string{
		"VW":   "Volkswagen",
		"Mini": "MINI",
		"Lynk": "Lynk & Co",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "2026-10-17", a.Version)
	assert.Equal(t, now, a.GeneratedAt)
	assert.Equal(t, SearchFormURL, a.Source)
	assert.Len(t, a.Brands, 10)
	assert.Len(t, a.Models, 2, "brands without a model page keep their id only")
	assert.Equal(t, map[string]string{"VW": "Volkswagen", "Mini": "MINI"}, a.Aliases)
	assert.Len(t, page.visited, 11, "form plus one page per brand")

	var buf bytes.Buffer
	require.NoError(t, a.Write(&buf))

	c, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"530", "X5", "i4"}, c.Models("BMW"))
	id, ok := c.ModelID("Porsche", "Macan")
	require.True(t, ok)
	assert.Equal(t, "31", id)
	assert.Equal(t, "Volkswagen", c.ResolveBrand("VW"))
}

func TestExtractorFormFailure(t *testing.T) {
	page := &fakePage{pages: map[string]string{}}
	_, err := NewExtractor(page, nil).Extract(context.Background(), nil, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search form")

	page = &fakePage{pages: map[string]string{SearchFormURL: `<p>Wartung</p>`}}
	_, err = NewExtractor(page, nil).Extract(context.Background(), nil, time.Now())
	assert.ErrorIs(t, err, ErrNoBrandSelect)
}

func TestExtractorHonoursContext(t *testing.T) {
	page := &fakePage{pages: map[string]string{SearchFormURL: brandForm()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(page, nil).Extract(ctx, nil, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
