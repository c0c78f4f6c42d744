package parser

import (
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

const resultPage = `<!DOCTYPE html>
<html><head><title>Fahrzeugliste</title><style>.panel{color:red}</style></head>
<body>
<div class="panel panel-default">
  <div class="panel-heading"><h3 class="panel-title cc-title">BMW 530d xDrive Touring</h3></div>
  <div class="panel-body">
    <img src="/img/carzilla-de-02.png" alt="Carzilla">
    <img src="https://img.cargate360.de/abc/1.jpg" alt="Bild: BMW 530d">
    <div class="cc-price-old">UPE: 72.500 €</div>
    <div>Sie sparen 18.060 €</div>
    <div class="cc-price">54.440 €</div>
    <div>ab 499 € / Monat</div>
    <div>MwSt. ausweisbar</div>
    <ul>
      <li>EZ März 2021</li>
      <li>45.000 km</li>
      <li>210 kW (286 PS)</li>
      <li>Diesel</li>
      <li>Automatik</li>
      <li>Schwarz</li>
      <li>5 Türer</li>
    </ul>
  </div>
</div>
<div class="panel panel-default">
  <span><b>garbage<i></span><p>4.200 €<p>&&& <<< €
</div>
<div class="panel panel-default">
  <div class="panel-heading"><h3 class="panel-title cc-title">Alpine A110 Première Édition</h3></div>
  <div class="panel-body">
    <img src="/images/a110.jpg" alt="Alpine">
    <p>Preis auf Anfrage</p>
    <p>MwSt. nicht ausweisbar</p>
    <p>EZ 05/2019<br>12.300 km<br>185 kW (252 PS)<br>Benzin<br>Schaltgetriebe<br>Weiß</p>
  </div>
</div>
</body></html>`

func newTestParser() *ListingParser {
	opts := DefaultOptions()
	opts.MaxYear = 2025
	p := NewListingParser(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func containerFrom(t *testing.T, body string) *container {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div id="c">` + body + `</div>`))
	require.NoError(t, err)
	return newContainer(doc.Find("#c"))
}

func TestParseListings(t *testing.T) {
	p := newTestParser()

	records, err := p.ParseListings(resultPage, ExtractContext{Make: "BMW"})
	require.NoError(t, err)
	require.Len(t, records, 2, "malformed container must be skipped, siblings kept")

	bmw := records[0]
	assert.Equal(t, "carzilla-1700000000000-0", bmw.ID)
	assert.Equal(t, "BMW", bmw.Make)
	assert.Equal(t, "530d xDrive Touring", bmw.Description)
	assert.Equal(t, "54440", bmw.PriceBruto)
	assert.Equal(t, "19", bmw.VAT)
	assert.Equal(t, "45000", bmw.Mileage)
	assert.Equal(t, "2021-03", bmw.FirstRegistration)
	assert.Equal(t, "210", bmw.Power)
	assert.Equal(t, models.FuelDiesel, bmw.Fuel)
	assert.Equal(t, models.GearboxAutomatic, bmw.Gearbox)
	assert.Equal(t, "Schwarz", bmw.Color)
	assert.Equal(t, "https://img.cargate360.de/abc/1.jpg", bmw.PhotoURL)
	assert.Equal(t, "apify", bmw.Source)
	assert.True(t, strings.HasPrefix(bmw.DetailURL, "https://wa.me/34621339515?text="))

	alpine := records[1]
	assert.Equal(t, "carzilla-1700000000000-2", alpine.ID)
	assert.Equal(t, "Alpine", alpine.Make)
	assert.Equal(t, "A110 Première Édition", alpine.Description)
	assert.Empty(t, alpine.PriceBruto)
	assert.Equal(t, "0", alpine.VAT)
	assert.Equal(t, "12300", alpine.Mileage)
	assert.Equal(t, "2019-05", alpine.FirstRegistration)
	assert.Equal(t, "185", alpine.Power)
	assert.Equal(t, models.FuelPetrol, alpine.Fuel)
	assert.Equal(t, models.GearboxManual, alpine.Gearbox)
	assert.Equal(t, "Weiß", alpine.Color)
	assert.Equal(t, "https://carzilla.de/images/a110.jpg", alpine.PhotoURL)
}

func TestParseListingsEmptyPage(t *testing.T) {
	p := newTestParser()

	for _, page := range []string{"", "<html><body></body></html>", "<div class=\"panel\">not a listing</div>"} {
		records, err := p.ParseListings(page, ExtractContext{Make: "BMW"})
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	}
}

func TestParseDocumentIsolatesPanics(t *testing.T) {
	p := newTestParser()
	p.color = Field{Name: "color", Strategies: []Strategy{{
		Name: "explodes",
		Extract: func(c *container) (string, bool) {
			if strings.Contains(c.text, "BOOM") {
				panic("unexpected markup")
			}
			return "", false
		},
	}}}

	page := `<div class="panel panel-default"><h3 class="panel-title">Audi A4 BOOM</h3><div>25.000 €</div></div>
<div class="panel panel-default"><h3 class="panel-title">Audi A6 Avant</h3><div>31.000 €</div></div>`

	records, err := p.ParseListings(page, ExtractContext{Make: "Audi"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A6 Avant", records[0].Description)
	assert.Equal(t, "31000", records[0].PriceBruto)
}

func TestAcceptanceGate(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		accepted bool
	}{
		{
			name:     "no title",
			html:     `<div class="panel panel-default"><div>25.000 €</div></div>`,
			accepted: false,
		},
		{
			name:     "make only without price",
			html:     `<div class="panel panel-default"><h3 class="panel-title">Tesla</h3></div>`,
			accepted: false,
		},
		{
			name:     "make with price",
			html:     `<div class="panel panel-default"><h3 class="panel-title">Tesla</h3><div>39.990 €</div></div>`,
			accepted: true,
		},
		{
			name:     "short description without price",
			html:     `<div class="panel panel-default"><h3 class="panel-title">VW Up!</h3></div>`,
			accepted: false,
		},
		{
			name:     "description without price",
			html:     `<div class="panel panel-default"><h3 class="panel-title">VW Golf GTI</h3><div>4.900 €</div></div>`,
			accepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := p.ParseListings(tt.html, ExtractContext{})
			require.NoError(t, err)
			if tt.accepted {
				assert.Len(t, records, 1)
			} else {
				assert.Empty(t, records)
			}
		})
	}
}

func TestPriceStrategies(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		expected string
		strategy string
	}{
		{
			name:     "standalone line skips list price and rate",
			html:     `<div>UPE: 60.000 €</div><div>299 € Monat</div><div>47.990 €</div>`,
			expected: "47990",
			strategy: "price-line",
		},
		{
			name:     "line below floor ignored",
			html:     `<div>4.999 €</div><div>12.500 €</div>`,
			expected: "12500",
			strategy: "price-line",
		},
		{
			name:     "price element with label and decimals",
			html:     `<div class="price-box"><span class="price">Preis: 23.990,00 EUR</span></div>`,
			expected: "23990",
			strategy: "price-selector",
		},
		{
			name:     "microdata content attribute",
			html:     `<meta itemprop="price" content="18500.00"><span>Preis siehe Anzeige</span>`,
			expected: "18500",
			strategy: "price-selector",
		},
		{
			name:     "json-ld offer",
			html:     `<script type="application/ld+json">{"@type":"Car","name":"Tesla Model 3","offers":{"@type":"Offer","price":"41990.00","priceCurrency":"EUR"}}</script>`,
			expected: "41990",
			strategy: "json-ld",
		},
		{
			name:     "json-ld graph with numeric price",
			html:     `<script type="application/ld+json">{"@graph":[{"@type":"Car","offers":[{"price":36500}]}]}</script>`,
			expected: "36500",
			strategy: "json-ld",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, strategy, ok := p.price.Extract(containerFrom(t, tt.html))
			require.True(t, ok)
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, tt.strategy, strategy)
		})
	}

	_, _, ok := p.price.Extract(containerFrom(t, `<div>Preis auf Anfrage</div><div>UPE: 45.000 €</div>`))
	assert.False(t, ok)
}

func TestMileageStrategies(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		expected string
		ok       bool
	}{
		{"labeled", `<dl><dt>Kilometerstand:</dt><dd>87.654 km</dd></dl>`, "87654", true},
		{"line", `<li>45.000 km</li>`, "45000", true},
		{"space separated", `<li>120 500 km</li>`, "120500", true},
		{"consumption is not mileage", `<li>Verbrauch: 5,9 l/100 km</li><li>CO2: 139 g/km</li>`, "", false},
		{"zero km rejected", `<li>0 km</li>`, "", false},
		{"implausibly high", `<li>1.500.000 km</li>`, "", false},
		{"top speed is not mileage", `<li>Vmax 250 km/h</li>`, "", false},
		{"top speed before mileage", `<li>Höchstgeschwindigkeit: 250 km / h</li><li>45.000 km</li>`, "45000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, _, ok := p.mileage.Extract(containerFrom(t, tt.html))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestRegistrationStrategies(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		expected string
		ok       bool
	}{
		{"month name", `<span>EZ März 2021</span>`, "2021-03", true},
		{"lower case month", `<span>EZ dezember 2019</span>`, "2019-12", true},
		{"abbreviated month", `<span>EZ Okt. 2018</span>`, "2018-10", true},
		{"unknown month defaults", `<span>EZ Frühling 2017</span>`, "2017-01", true},
		{"numeric", `<span>Erstzulassung: 7/2016</span>`, "2016-07", true},
		{"year too old", `<span>EZ März 1985</span>`, "", false},
		{"year in the future", `<span>EZ März 2031</span>`, "", false},
		{"absent", `<span>Neuwagen</span>`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, _, ok := p.registration.Extract(containerFrom(t, tt.html))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestPowerStrategies(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		expected string
		strategy string
	}{
		{"kw with ps", `<li>110 kW (150 PS)</li>`, "110", "kw-ps"},
		{"ps only", `<li>Leistung: 150 PS</li>`, "110", "ps-only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, strategy, ok := p.power.Extract(containerFrom(t, tt.html))
			require.True(t, ok)
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, tt.strategy, strategy)
		})
	}

	_, _, ok := p.power.Extract(containerFrom(t, `<li>20 kW (27 PS)</li>`))
	assert.False(t, ok, "below plausibility bound")
}

func TestKeywordFields(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		html    string
		fuel    string
		gearbox string
	}{
		{`<li>Plug-in-Hybrid (Benzin/Elektro)</li><li>Automatik</li>`, models.FuelHybrid, models.GearboxAutomatic},
		{`<li>Erdgas (CNG)</li><li>Schaltgetriebe</li>`, models.FuelCNG, models.GearboxManual},
		{`<li>Autogas</li><li>manuell</li>`, models.FuelLPG, models.GearboxManual},
		{`<li>Wasserstoff</li><li>Tiptronic</li>`, models.FuelHydrogen, models.GearboxSemiAutomatic},
		{`<li>Elektro</li><li>Halbautomatik</li>`, models.FuelElectricity, models.GearboxSemiAutomatic},
		{`<li>Benzin</li><li>Schaltgetriebe</li><li>2-Zonen-Klimaautomatik</li>`, models.FuelPetrol, models.GearboxManual},
		{`<li>Diesel</li><li>Elektronische Parkbremse</li><li>Schaltgetriebe</li>`, models.FuelDiesel, models.GearboxManual},
		{`<li>Benzin</li><li>Elektrische Fensterheber</li><li>Elektronik-Paket</li><li>Automatik</li>`, models.FuelPetrol, models.GearboxAutomatic},
	}

	for _, tt := range tests {
		t.Run(tt.fuel+"/"+tt.gearbox, func(t *testing.T) {
			c := containerFrom(t, tt.html)
			fuel, _, _ := p.fuel.Extract(c)
			gearbox, _, _ := p.gearbox.Extract(c)
			assert.Equal(t, tt.fuel, fuel)
			assert.Equal(t, tt.gearbox, gearbox)
		})
	}
}

func TestColorStrategies(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		expected string
		strategy string
		ok       bool
	}{
		{"labeled", `<li>Außenfarbe: Mineralgrau</li>`, "Mineralgrau", "labeled", true},
		{"dictionary", `<li>Diesel</li><li>Silber</li>`, "Silber", "dictionary", true},
		{"after gearbox", `<li>Automatik Saphirschwarz</li>`, "Saphirschwarz", "after-gearbox", true},
		{"seat count is not a color", `<li>Schaltgetriebe Sitzer</li>`, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, strategy, ok := p.color.Extract(containerFrom(t, tt.html))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, tt.strategy, strategy)
		})
	}
}

func TestPhotoStrategies(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "quality seal and logo skipped",
			html:     `<img src="/img/qualitaetssiegel.png" alt="Qualitätssiegel"><img src="/img/logo.svg"><img data-src="https://cdn.cargate360.de/x.jpg">`,
			expected: "https://cdn.cargate360.de/x.jpg",
		},
		{
			name:     "relative photo resolved",
			html:     `<img src="/static/icon-star.png"><img src="fotos/42.jpg">`,
			expected: "https://carzilla.de/fotos/42.jpg",
		},
		{
			name:     "only placeholders",
			html:     `<img src="/img/carzilla-de-02.png">`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, _, _ := p.photo.Extract(containerFrom(t, tt.html))
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestContactURLRoundTrip(t *testing.T) {
	descriptions := []string{
		"530d xDrive Touring",
		"A110 & M-Sport (100% Leder) #1 + Extras?",
		"Première Édition / ÄÖÜ ß",
		"",
	}

	for _, desc := range descriptions {
		t.Run(desc, func(t *testing.T) {
			link := ContactURL("BMW", desc)
			require.True(t, strings.HasPrefix(link, "https://wa.me/34621339515?text="))
			assert.NotContains(t, link, "+")
			assert.NotContains(t, link, " ")

			u, err := url.Parse(link)
			require.NoError(t, err)

			text := u.Query().Get("text")
			expected := strings.TrimSpace("Información sobre BMW " + desc)
			assert.Equal(t, expected+" de Carzilla.de", text)
		})
	}

	assert.Contains(t, ContactURL("", ""), "Car%20de%20Carzilla.de")
}

func TestVisibleLines(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><h3>BMW   530d</h3><script>var x = "1.000 €";</script><span>45.000</span> <span>km</span><br>Diesel<!-- hidden --></div>`))
	require.NoError(t, err)

	assert.Equal(t, []string{"BMW 530d", "45.000 km", "Diesel"}, visibleLines(doc.Find("div")))
}
