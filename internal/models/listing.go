package models

import (
	"strconv"
)

const (
	SourceTag = "apify"

	VATStandard = "19"
	VATNone     = "0"
)

// Fuel values of the unified record.
const (
	FuelPetrol      = "PETROL"
	FuelDiesel      = "DIESEL"
	FuelElectricity = "ELECTRICITY"
	FuelHybrid      = "HYBRID"
	FuelLPG         = "LPG"
	FuelCNG         = "CNG"
	FuelHydrogen    = "HYDROGENIUM"
)

// Gearbox values of the unified record.
const (
	GearboxAutomatic     = "AUTOMATIC_GEAR"
	GearboxManual        = "MANUAL_GEAR"
	GearboxSemiAutomatic = "SEMIAUTOMATIC_GEAR"
)

// ListingRecord is one vehicle recovered from a listing page. Empty fields
// were not found and are left out of the JSON form.
type ListingRecord struct {
	ID                string `json:"id"`
	Make              string `json:"make,omitempty"`
	Description       string `json:"description,omitempty"`
	PriceBruto        string `json:"price_bruto,omitempty"`
	VAT               string `json:"vat"`
	Mileage           string `json:"mileage,omitempty"`
	FirstRegistration string `json:"first_registration,omitempty"`
	Power             string `json:"power,omitempty"`
	Fuel              string `json:"fuel,omitempty"`
	Gearbox           string `json:"gearbox,omitempty"`
	Color             string `json:"color,omitempty"`
	PhotoURL          string `json:"photo_url,omitempty"`
	DetailURL         string `json:"detail_url"`
	Source            string `json:"source"`
}

// CheckboxFilter is an in-page toggle applied after the listing page loads.
type CheckboxFilter struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SupportVerdict is the pre-flight answer for a brand/model combination.
type SupportVerdict struct {
	Supported       bool     `json:"supported"`
	Reason          string   `json:"reason,omitempty"`
	Warning         string   `json:"warning,omitempty"`
	Alternatives    []string `json:"alternatives,omitempty"`
	AvailableModels []string `json:"available_models,omitempty"`
}

type PriceRange struct {
	Min *int `json:"min"`
	Max *int `json:"max"`
}

type ParametersUsed struct {
	Make           string     `json:"make"`
	Model          string     `json:"model,omitempty"`
	PriceRange     PriceRange `json:"price_range"`
	FiltersApplied int        `json:"filters_applied"`
}

// ResultEnvelope is returned for every search, including failed ones.
type ResultEnvelope struct {
	RunID           string          `json:"run_id"`
	Items           []ListingRecord `json:"items"`
	Total           string          `json:"total"`
	MaxPages        int             `json:"max_pages"`
	Endpoint        string          `json:"endpoint"`
	SearchURL       string          `json:"search_url,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	Error           string          `json:"error,omitempty"`
	PartialResults  bool            `json:"partial_results,omitempty"`
	Alternatives    []string        `json:"alternatives,omitempty"`
	Warning         string          `json:"warning,omitempty"`
	AvailableModels []string        `json:"available_models,omitempty"`
	ParametersUsed  *ParametersUsed `json:"parameters_used,omitempty"`
}

// NewEnvelope returns an envelope holding items with the count fields set.
func NewEnvelope(runID string, items []ListingRecord) *ResultEnvelope {
	if items == nil {
		items = []ListingRecord{}
	}
	return &ResultEnvelope{
		RunID:    runID,
		Items:    items,
		Total:    strconv.Itoa(len(items)),
		MaxPages: 1,
	}
}
