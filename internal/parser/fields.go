package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

var (
	// A line that is only a price: "34.440 €".
	priceLinePattern = regexp.MustCompile(`^(\d{1,3}(?:\.\d{3})*)\s*€$`)
	// A price inside arbitrary element text: "34.440,00 €", "34 440 EUR".
	priceTextPattern = regexp.MustCompile(`(\d{1,3}(?:[.\s]\d{3})+|\d{4,})(?:,\d{2})?\s*(?:€|EUR)`)

	mileageLinePattern = regexp.MustCompile(`(?i)(\d{1,3}(?:[. ]\d{3})+|\d+)\s*km\b`)
	mileageTextPattern = regexp.MustCompile(`(?i)(\d{1,3}(?:[.\s]?\d{3})*)\s*km`)
	mileageLabel       = regexp.MustCompile(`(?i)(?:kilometerstand|km-stand|laufleistung)\s*:?\s*(\d{1,3}(?:[.\s]\d{3})+|\d+)`)

	registrationNamedPattern   = regexp.MustCompile(`(?i)\bEZ\s+(\p{L}+)\.?\s+(\d{4})`)
	registrationNumericPattern = regexp.MustCompile(`(?i)(?:\bEZ|erstzulassung)\s*:?\s*(\d{1,2})\s*/\s*(\d{4})`)

	powerKWPSPattern = regexp.MustCompile(`(?i)(\d+)\s*kW\s*\((\d+)\s*PS\)`)
	powerPSPattern   = regexp.MustCompile(`(?i)(\d+)\s*PS\b`)

	colorLabelPattern     = regexp.MustCompile(`(?i)\b(?:außenfarbe|aussenfarbe|farbe)\s*:?\s*(\p{L}+)`)
	colorAfterGearPattern = regexp.MustCompile(`(?i)(?:automatik|schaltgetriebe|manuell)\s+(\p{L}+)`)
	letterRun             = regexp.MustCompile(`\p{L}+`)

	thousandsSeparators = strings.NewReplacer(".", "", " ", "", "\u00a0", "", "\n", "", "\t", "")
)

// Lines carrying these markers hold list prices, savings or finance rates.
var priceSkipMarkers = []string{"UPE:", "Sie sparen", "Monat"}

var germanMonths = map[string]string{
	"januar": "01", "jan": "01", "jänner": "01",
	"februar": "02", "feb": "02",
	"märz": "03", "maerz": "03", "mär": "03", "mrz": "03",
	"april": "04", "apr": "04",
	"mai": "05",
	"juni": "06", "jun": "06",
	"juli": "07", "jul": "07",
	"august": "08", "aug": "08",
	"september": "09", "sep": "09", "sept": "09",
	"oktober": "10", "okt": "10",
	"november": "11", "nov": "11",
	"dezember": "12", "dez": "12",
}

// Most specific terms first: "erdgas" before "gas", "hybrid" before the
// fuels a hybrid mentions. Combustion fuels precede "elektro", which also
// shows up in equipment lists.
var fuelKeywords = []keyword{
	{"wasserstoff", models.FuelHydrogen},
	{"erdgas", models.FuelCNG},
	{"autogas", models.FuelLPG},
	{"lpg", models.FuelLPG},
	{"hybrid", models.FuelHybrid},
	{"diesel", models.FuelDiesel},
	{"benzin", models.FuelPetrol},
	{"elektro", models.FuelElectricity},
	{"gas", models.FuelLPG},
}

// Equipment terms that contain "elektro": "Elektronische Parkbremse".
var fuelNoise = []string{"elektronisch", "elektronik"}

var gearboxKeywords = []keyword{
	{"halbautomatik", models.GearboxSemiAutomatic},
	{"automatik", models.GearboxAutomatic},
	{"schaltgetriebe", models.GearboxManual},
	{"manuell", models.GearboxManual},
	{"tiptronic", models.GearboxSemiAutomatic},
}

// Comfort features that contain "automatik".
var gearboxNoise = []string{"klimaautomatik", "lichtautomatik"}

var colorNames = map[string]string{
	"schwarz": "Schwarz", "weiß": "Weiß", "weiss": "Weiß", "silber": "Silber",
	"grau": "Grau", "blau": "Blau", "rot": "Rot", "grün": "Grün",
	"gruen": "Grün", "gelb": "Gelb", "braun": "Braun", "beige": "Beige",
	"orange": "Orange", "violett": "Violett", "lila": "Lila", "gold": "Gold",
	"bronze": "Bronze", "anthrazit": "Anthrazit",
}

var colorStopWords = map[string]bool{"sitzer": true, "türer": true}

func (p *ListingParser) priceField() Field {
	return Field{Name: "price_bruto", Strategies: []Strategy{
		{Name: "price-line", Extract: p.priceFromLines},
		{Name: "price-selector", Extract: p.priceFromSelectors},
		{Name: "json-ld", Extract: p.priceFromJSONLD},
	}}
}

func (p *ListingParser) priceFromLines(c *container) (string, bool) {
	for _, line := range c.lines {
		if containsAny(line, priceSkipMarkers) {
			continue
		}
		m := priceLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, ok := p.plausiblePrice(m[1]); ok {
			return v, true
		}
	}
	return "", false
}

func (p *ListingParser) priceFromSelectors(c *container) (string, bool) {
	var out string
	c.sel.Find(`[itemprop="price"], .cc-price, .price, [class*="price"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if content, ok := s.Attr("content"); ok {
			if v, ok := p.plausiblePrice(content); ok {
				out = v
				return false
			}
		}
		text := strings.Join(visibleLines(s), "\n")
		if containsAny(text, priceSkipMarkers) {
			return true
		}
		for _, m := range priceTextPattern.FindAllStringSubmatch(text, -1) {
			if v, ok := p.plausiblePrice(m[1]); ok {
				out = v
				return false
			}
		}
		return true
	})
	return out, out != ""
}

func (p *ListingParser) priceFromJSONLD(c *container) (string, bool) {
	for _, obj := range c.jsonLD() {
		for _, offer := range offersOf(obj) {
			if v, ok := p.plausiblePrice(scalarString(offer["price"])); ok {
				return v, true
			}
		}
	}
	return "", false
}

// plausiblePrice strips separators and decimals and applies the price floor.
func (p *ListingParser) plausiblePrice(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	// JSON-LD uses a decimal point: "34440.00".
	if i := strings.LastIndexByte(raw, '.'); i >= 0 && len(raw)-i-1 != 3 {
		raw = raw[:i]
	}
	n, err := strconv.Atoi(thousandsSeparators.Replace(raw))
	if err != nil || n <= p.opts.MinPrice {
		return "", false
	}
	return strconv.Itoa(n), true
}

func offersOf(obj map[string]any) []map[string]any {
	var out []map[string]any
	if _, ok := obj["price"]; ok {
		out = append(out, obj)
	}
	switch o := obj["offers"].(type) {
	case map[string]any:
		out = append(out, o)
	case []any:
		for _, item := range o {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func (p *ListingParser) vat(c *container) string {
	switch {
	case strings.Contains(c.text, "MwSt. ausweisbar"):
		return models.VATStandard
	case strings.Contains(c.text, "MwSt. nicht ausweisbar"):
		return models.VATNone
	}
	return p.opts.DefaultVAT
}

func (p *ListingParser) mileageField() Field {
	return Field{Name: "mileage", Strategies: []Strategy{
		{Name: "labeled", Extract: func(c *container) (string, bool) {
			return firstMileage(mileageLabel, c.text)
		}},
		{Name: "line", Extract: func(c *container) (string, bool) {
			for _, line := range c.lines {
				if v, ok := firstMileage(mileageLinePattern, line); ok {
					return v, true
				}
			}
			return "", false
		}},
		{Name: "full-text", Extract: func(c *container) (string, bool) {
			return firstMileage(mileageTextPattern, c.text)
		}},
	}}
}

// firstMileage returns the first plausible match of pattern in s. Matches
// directly after a slash are consumption figures ("5,9 l/100 km"), matches
// followed by "/h" are speeds ("250 km/h").
func firstMileage(pattern *regexp.Regexp, s string) (string, bool) {
	for _, loc := range pattern.FindAllStringSubmatchIndex(s, -1) {
		start := loc[2]
		if start > 0 && strings.HasSuffix(strings.TrimRight(s[:start], " "), "/") {
			continue
		}
		if perHour(s[loc[1]:]) {
			continue
		}
		n, err := strconv.Atoi(thousandsSeparators.Replace(s[loc[2]:loc[3]]))
		if err != nil || n <= 0 || n >= 1_000_000 {
			continue
		}
		return strconv.Itoa(n), true
	}
	return "", false
}

// perHour reports whether rest starts with "/h", spaces allowed.
func perHour(rest string) bool {
	rest = strings.TrimLeft(rest, " ")
	if !strings.HasPrefix(rest, "/") {
		return false
	}
	rest = strings.TrimLeft(rest[1:], " ")
	return strings.HasPrefix(rest, "h") || strings.HasPrefix(rest, "H")
}

func (p *ListingParser) registrationField() Field {
	return Field{Name: "first_registration", Strategies: []Strategy{
		{Name: "month-name", Extract: func(c *container) (string, bool) {
			m := registrationNamedPattern.FindStringSubmatch(c.text)
			if m == nil {
				return "", false
			}
			month, ok := germanMonths[strings.ToLower(m[1])]
			if !ok {
				month = p.opts.DefaultMonth
			}
			return p.registrationValue(m[2], month)
		}},
		{Name: "numeric", Extract: func(c *container) (string, bool) {
			m := registrationNumericPattern.FindStringSubmatch(c.text)
			if m == nil {
				return "", false
			}
			month, err := strconv.Atoi(m[1])
			if err != nil || month < 1 || month > 12 {
				return "", false
			}
			return p.registrationValue(m[2], fmt.Sprintf("%02d", month))
		}},
	}}
}

func (p *ListingParser) registrationValue(yearText, month string) (string, bool) {
	year, err := strconv.Atoi(yearText)
	if err != nil || year < p.opts.MinYear || year > p.opts.MaxYear {
		return "", false
	}
	return fmt.Sprintf("%d-%s", year, month), true
}

func (p *ListingParser) powerField() Field {
	return Field{Name: "power", Strategies: []Strategy{
		{Name: "kw-ps", Extract: func(c *container) (string, bool) {
			m := powerKWPSPattern.FindStringSubmatch(c.text)
			if m == nil {
				return "", false
			}
			kw, err := strconv.Atoi(m[1])
			if err != nil {
				return "", false
			}
			return plausiblePower(kw)
		}},
		{Name: "ps-only", Extract: func(c *container) (string, bool) {
			m := powerPSPattern.FindStringSubmatch(c.text)
			if m == nil {
				return "", false
			}
			ps, err := strconv.Atoi(m[1])
			if err != nil {
				return "", false
			}
			return plausiblePower(int(math.Round(float64(ps) * p.opts.HPToKW)))
		}},
	}}
}

func plausiblePower(kw int) (string, bool) {
	if kw <= 30 || kw >= 1000 {
		return "", false
	}
	return strconv.Itoa(kw), true
}

func (p *ListingParser) colorField() Field {
	return Field{Name: "color", Strategies: []Strategy{
		{Name: "labeled", Extract: func(c *container) (string, bool) {
			m := colorLabelPattern.FindStringSubmatch(c.text)
			if m == nil {
				return "", false
			}
			return m[1], true
		}},
		{Name: "dictionary", Extract: func(c *container) (string, bool) {
			for _, token := range letterRun.FindAllString(c.lower, -1) {
				if name, ok := colorNames[token]; ok {
					return name, true
				}
			}
			return "", false
		}},
		{Name: "after-gearbox", Extract: func(c *container) (string, bool) {
			m := colorAfterGearPattern.FindStringSubmatch(c.text)
			if m == nil || colorStopWords[strings.ToLower(m[1])] {
				return "", false
			}
			return m[1], true
		}},
	}}
}

func (p *ListingParser) titleField() Field {
	return Field{Name: "title", Strategies: []Strategy{
		{Name: "title-selector", Extract: selectorText(".panel-title.cc-title, h3.panel-title")},
		{Name: "heading", Extract: selectorText("h3, .panel-title, h2")},
		{Name: "itemprop", Extract: selectorText(`[itemprop="name"]`)},
		{Name: "json-ld", Extract: func(c *container) (string, bool) {
			for _, obj := range c.jsonLD() {
				if name := strings.TrimSpace(scalarString(obj["name"])); name != "" {
					return name, true
				}
			}
			return "", false
		}},
	}}
}

func selectorText(selector string) func(c *container) (string, bool) {
	return func(c *container) (string, bool) {
		s := c.sel.Find(selector).First()
		if s.Length() == 0 {
			return "", false
		}
		title := strings.Join(strings.Fields(s.Text()), " ")
		return title, title != ""
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
