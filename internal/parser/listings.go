package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

const (
	// ContainerSelector matches one listing card on the result page.
	ContainerSelector = ".panel.panel-default"

	siteBaseURL = "https://carzilla.de/"

	contactBaseURL = "https://wa.me/34621339515?text="
)

// Asset names of placeholders, quality seals and logos that are not photos.
var imageExclusions = []string{"carzilla-de-02.png", "qualitaetssiegel", "logo", "icon"}

// ExtractContext carries request data the page itself may not repeat.
type ExtractContext struct {
	Make string
}

// Options holds the defaults and plausibility bounds of the extractor.
type Options struct {
	// Prices at or below this are treated as rates or fees.
	MinPrice     int
	MinYear      int
	MaxYear      int
	HPToKW       float64
	DefaultVAT   string
	DefaultMonth string
	// Descriptions longer than this let a record through without a price.
	MinDescriptionLength int
}

func DefaultOptions() Options {
	return Options{
		MinPrice:             5000,
		MinYear:              1990,
		MaxYear:              time.Now().Year(),
		HPToKW:               0.735,
		DefaultVAT:           models.VATStandard,
		DefaultMonth:         "01",
		MinDescriptionLength: 3,
	}
}

type ListingParser struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	title        Field
	price        Field
	mileage      Field
	registration Field
	power        Field
	fuel         Field
	gearbox      Field
	color        Field
	photo        Field
}

func NewListingParser(opts Options, logger *slog.Logger) *ListingParser {
	if logger == nil {
		logger = slog.Default()
	}

	p := &ListingParser{
		opts:   opts,
		logger: logger.With("component", "listing_parser"),
		now:    time.Now,
	}

	p.title = p.titleField()
	p.price = p.priceField()
	p.mileage = p.mileageField()
	p.registration = p.registrationField()
	p.power = p.powerField()
	p.fuel = keywordField("fuel", fuelKeywords, fuelNoise...)
	p.gearbox = keywordField("gearbox", gearboxKeywords, gearboxNoise...)
	p.color = p.colorField()
	p.photo = photoField()

	return p
}

// ParseListings parses a full result page.
func (p *ListingParser) ParseListings(html string, ctx ExtractContext) ([]models.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return p.ParseDocument(doc, ctx), nil
}

// ParseDocument extracts one record per listing container. A container that
// fails is logged and skipped; the rest of the page is still processed. An
// empty page yields an empty, non-nil slice.
func (p *ListingParser) ParseDocument(doc *goquery.Document, ctx ExtractContext) []models.ListingRecord {
	records := []models.ListingRecord{}
	stamp := p.now().UnixMilli()

	doc.Find(ContainerSelector).Each(func(i int, sel *goquery.Selection) {
		record, ok, err := p.parseContainer(sel, i, stamp, ctx)
		if err != nil {
			p.logger.Warn("failed to extract listing", "index", i, "error", err)
			return
		}
		if !ok {
			p.logger.Debug("listing rejected by acceptance gate", "index", i)
			return
		}
		records = append(records, record)
	})

	p.logger.Debug("extracted listings", "count", len(records))
	return records
}

func (p *ListingParser) parseContainer(sel *goquery.Selection, index int, stamp int64, ctx ExtractContext) (record models.ListingRecord, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while extracting listing %d: %v", index, r)
			ok = false
		}
	}()

	c := newContainer(sel)

	record = models.ListingRecord{
		ID:     "carzilla-" + strconv.FormatInt(stamp, 10) + "-" + strconv.Itoa(index),
		VAT:    p.vat(c),
		Source: models.SourceTag,
	}

	if title, _, found := p.title.Extract(c); found {
		record.Make, record.Description = splitTitle(title, ctx.Make)
	}

	record.PriceBruto, _, _ = p.price.Extract(c)
	record.Mileage, _, _ = p.mileage.Extract(c)
	record.FirstRegistration, _, _ = p.registration.Extract(c)
	record.Power, _, _ = p.power.Extract(c)
	record.Fuel, _, _ = p.fuel.Extract(c)
	record.Gearbox, _, _ = p.gearbox.Extract(c)
	record.Color, _, _ = p.color.Extract(c)
	record.PhotoURL, _, _ = p.photo.Extract(c)
	record.DetailURL = ContactURL(record.Make, record.Description)

	return record, p.accept(record), nil
}

// accept requires a name and either a price or a meaningful description.
func (p *ListingParser) accept(r models.ListingRecord) bool {
	if r.Make == "" && r.Description == "" {
		return false
	}
	return r.PriceBruto != "" || utf8.RuneCountInString(r.Description) > p.opts.MinDescriptionLength
}

// splitTitle takes the first word as the make and the rest as description.
func splitTitle(title, fallbackMake string) (string, string) {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return fallbackMake, ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// ContactURL builds the messaging deep-link for a listing.
func ContactURL(makeName, description string) string {
	if makeName == "" {
		makeName = "Car"
	}
	info := strings.TrimSpace(makeName + " " + description)
	return contactBaseURL + "Información%20sobre%20" + encodeURIComponent(info) + "%20de%20Carzilla.de"
}

// encodeURIComponent escapes like the browser function of the same name:
// spaces become %20 rather than "+".
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	for _, keep := range []string{"!", "'", "(", ")", "*"} {
		escaped = strings.ReplaceAll(escaped, url.QueryEscape(keep), keep)
	}
	return escaped
}

// keywordField scans the lower-cased text after removing noise terms that
// contain a keyword without meaning it.
func keywordField(name string, dict []keyword, noise ...string) Field {
	pairs := make([]string, 0, 2*len(noise))
	for _, n := range noise {
		pairs = append(pairs, n, " ")
	}
	strip := strings.NewReplacer(pairs...)

	return Field{Name: name, Strategies: []Strategy{
		{Name: "keyword", Extract: func(c *container) (string, bool) {
			return firstKeyword(strip.Replace(c.lower), dict)
		}},
	}}
}

func photoField() Field {
	return Field{Name: "photo_url", Strategies: []Strategy{
		{Name: "photo-alt", Extract: imageBySelector(`img[alt*="Bild:"]`)},
		{Name: "cdn-src", Extract: imageBySelector(`img[src*="cargate360"], img[data-src*="cargate360"]`)},
		{Name: "any-image", Extract: imageBySelector(`img`)},
	}}
}

func imageBySelector(selector string) func(c *container) (string, bool) {
	return func(c *container) (string, bool) {
		var out string
		c.sel.Find(selector).EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src := imageSource(img)
			if src == "" || excludedImage(img, src) {
				return true
			}
			out = absoluteURL(src)
			return false
		})
		return out, out != ""
	}
}

func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy"} {
		if v, ok := img.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return v
			}
		}
	}
	return ""
}

func excludedImage(img *goquery.Selection, src string) bool {
	alt, _ := img.Attr("alt")
	if strings.Contains(alt, "Qualitätssiegel") {
		return true
	}
	lower := strings.ToLower(src)
	return containsAny(lower, imageExclusions)
}

func absoluteURL(src string) string {
	u, err := url.Parse(src)
	if err != nil || u.IsAbs() {
		return src
	}
	base, _ := url.Parse(siteBaseURL)
	return base.ResolveReference(u).String()
}
