package mapping

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/carzilla-scraper/internal/catalog"
	"github.com/maltedev/carzilla-scraper/internal/models"
)

const (
	searchBaseURL = "https://carzilla.de/Fahrzeuge/Fahrzeugliste"

	// Always appended last: 20 results per page, ascending sale price.
	searchSuffix = "&rp=20&sf=prices.SalePrice.value"

	MinRegistrationYear = 1980
)

// Policy holds the tunable heuristics of the mapper.
type Policy struct {
	// Power values above this are taken as horsepower and converted.
	PowerUnitThreshold int
	HPToKW             float64
	MaxYear            int
}

func DefaultPolicy() Policy {
	return Policy{
		PowerUnitThreshold: 200,
		HPToKW:             0.735,
		MaxYear:            time.Now().Year(),
	}
}

// Mapper translates partner search requests into site URLs and in-page
// filters. It only reads the catalog and is safe for concurrent use.
type Mapper struct {
	catalog *catalog.Catalog
	policy  Policy
	logger  *slog.Logger
}

func NewMapper(cat *catalog.Catalog, policy Policy, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		catalog: cat,
		policy:  policy,
		logger:  logger.With("component", "mapper"),
	}
}

func (m *Mapper) Policy() Policy {
	return m.policy
}

// BuildSearchURL returns the listing URL for req, or false when the brand has
// no catalog id and no results are possible.
func (m *Mapper) BuildSearchURL(req *models.SearchRequest) (string, bool) {
	brand := m.catalog.ResolveBrand(req.Make)
	brandID, ok := m.catalog.BrandID(brand)
	if !ok {
		m.logger.Info("brand not supported", "make", req.Make, "resolved", brand)
		return "", false
	}

	var b strings.Builder
	b.WriteString(searchBaseURL)
	b.WriteString("?m=")
	b.WriteString(brandID)

	if req.Model != "" {
		if modelID, ok := m.catalog.ModelID(brand, req.Model); ok {
			writeParam(&b, "mo", modelID)
		} else {
			m.logger.Info("model not found, searching brand only", "make", brand, "model", req.Model)
		}
	}

	if req.PriceMin != nil {
		writeParam(&b, "pf", strconv.Itoa(SnapMin(PriceLadder, *req.PriceMin)))
	}
	if req.PriceMax != nil {
		writeParam(&b, "pt", strconv.Itoa(SnapMax(PriceLadder, *req.PriceMax)))
	}
	if req.MileageMax != nil {
		writeParam(&b, "kt", strconv.Itoa(SnapMax(MileageLadder, *req.MileageMax)))
	}
	if year, ok := m.RegistrationYear(req); ok {
		writeParam(&b, "yfrom", strconv.Itoa(year))
	}
	if req.Power != nil {
		writeParam(&b, "kwf", strconv.Itoa(SnapMin(PowerLadder, m.PowerKW(*req.Power))))
	}

	for _, fuel := range req.Fuel {
		if id, ok := FuelTypes.Lookup(fuel); ok {
			writeParam(&b, "mt", id)
		}
	}

	for _, f := range m.CheckboxFilters(req) {
		writeParam(&b, "f[]", f.ID)
	}

	b.WriteString(searchSuffix)
	return b.String(), true
}

// CheckboxFilters lists the toggles the site only exposes on the page. The
// same ids are embedded in the URL as f[] so both paths agree.
func (m *Mapper) CheckboxFilters(req *models.SearchRequest) []models.CheckboxFilter {
	filters := []models.CheckboxFilter{}

	add := func(v *Vocabulary, value string) {
		if value == "" {
			return
		}
		if id, ok := v.Lookup(value); ok {
			filters = append(filters, models.CheckboxFilter{Type: "checkbox", ID: id, Name: v.Name()})
		}
	}

	add(Transmissions, req.Transmission)
	add(Conditions, req.Condition)
	add(BodyTypes, req.BodyType)

	if req.WantsFourWheelDrive() {
		filters = append(filters, models.CheckboxFilter{Type: "checkbox", ID: FourWheelDriveFilterID, Name: "allrad"})
	}

	return filters
}

// PowerKW applies the unit heuristic: values above the threshold are read as
// horsepower and converted to kW.
func (m *Mapper) PowerKW(power int) int {
	if power > m.policy.PowerUnitThreshold {
		return int(math.Round(float64(power) * m.policy.HPToKW))
	}
	return power
}

// RegistrationYear returns the requested year when it is inside
// [MinRegistrationYear, MaxYear].
func (m *Mapper) RegistrationYear(req *models.SearchRequest) (int, bool) {
	if req.FirstRegistrationYear == nil {
		return 0, false
	}
	year := *req.FirstRegistrationYear
	if year < MinRegistrationYear || year > m.policy.MaxYear {
		return 0, false
	}
	return year, true
}

func writeParam(b *strings.Builder, key, value string) {
	b.WriteByte('&')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}
