package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMissingMake = errors.New("make is required")

// SearchRequest is the partner search contract. Optional numeric bounds are
// nil when the caller did not send them (or sent zero / a non-number).
type SearchRequest struct {
	Make                  string   `json:"make"`
	Model                 string   `json:"model,omitempty"`
	PriceMin              *int     `json:"price_min,omitempty"`
	PriceMax              *int     `json:"price_max,omitempty"`
	MileageMax            *int     `json:"mileage_max,omitempty"`
	FirstRegistrationYear *int     `json:"first_registration_year,omitempty"`
	Fuel                  []string `json:"fuel,omitempty"`
	Power                 *int     `json:"power,omitempty"`
	Transmission          string   `json:"transmission,omitempty"`
	FourWheelDrive        *string  `json:"four_wheel_drive,omitempty"`
	Condition             string   `json:"condition,omitempty"`
	BodyType              string   `json:"body_type,omitempty"`
}

// Partner payloads mix English and Spanish keys. The first key present wins.
var requestKeys = map[string][]string{
	"make":                    {"make", "marca"},
	"model":                   {"model", "modelo"},
	"price_min":               {"price_min"},
	"price_max":               {"price_max"},
	"mileage_max":             {"mileage_max", "kilometraje_max"},
	"first_registration_year": {"first_registration_year", "first_registration_date"},
	"fuel":                    {"fuel", "combustible"},
	"power":                   {"power", "potencia"},
	"transmission":            {"transmission", "transmision"},
	"four_wheel_drive":        {"four_wheel_drive", "fourwheeldrive"},
	"condition":               {"condition", "estado"},
	"body_type":               {"body_type", "carroceria"},
}

func (r *SearchRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode search request: %w", err)
	}

	lookup := func(field string) (json.RawMessage, bool) {
		for _, key := range requestKeys[field] {
			if v, ok := raw[key]; ok && !isNull(v) {
				return v, true
			}
		}
		return nil, false
	}

	*r = SearchRequest{}

	if v, ok := lookup("make"); ok {
		r.Make = strings.TrimSpace(rawString(v))
	}
	if v, ok := lookup("model"); ok {
		r.Model = strings.TrimSpace(rawString(v))
	}
	if v, ok := lookup("price_min"); ok {
		r.PriceMin = rawInt(v)
	}
	if v, ok := lookup("price_max"); ok {
		r.PriceMax = rawInt(v)
	}
	if v, ok := lookup("mileage_max"); ok {
		r.MileageMax = rawInt(v)
	}
	if v, ok := lookup("first_registration_year"); ok {
		r.FirstRegistrationYear = rawInt(v)
	}
	if v, ok := lookup("power"); ok {
		r.Power = rawInt(v)
	}
	if v, ok := lookup("fuel"); ok {
		r.Fuel = rawStrings(v)
	}
	if v, ok := lookup("transmission"); ok {
		r.Transmission = strings.TrimSpace(rawString(v))
	}
	if v, ok := lookup("condition"); ok {
		r.Condition = strings.TrimSpace(rawString(v))
	}
	if v, ok := lookup("body_type"); ok {
		r.BodyType = strings.TrimSpace(rawString(v))
	}
	if v, ok := lookup("four_wheel_drive"); ok {
		// Only a JSON string is kept; booleans and numbers are not the flag.
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			r.FourWheelDrive = &s
		}
	}

	return nil
}

// Validate checks the boundary requirements that the rest of the pipeline
// relies on.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Make) == "" {
		return ErrMissingMake
	}
	return nil
}

// WantsFourWheelDrive reports whether the four-wheel drive flag is exactly "1".
func (r *SearchRequest) WantsFourWheelDrive() bool {
	return r.FourWheelDrive != nil && *r.FourWheelDrive == "1"
}

// IntPtr is a convenience for building requests in code.
func IntPtr(v int) *int {
	return &v
}

// StringPtr is a convenience for building requests in code.
func StringPtr(v string) *string {
	return &v
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	// Numbers and booleans become their literal text.
	return strings.TrimSpace(string(v))
}

func rawStrings(v json.RawMessage) []string {
	var list []json.RawMessage
	if err := json.Unmarshal(v, &list); err != nil {
		list = []json.RawMessage{v}
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		if isNull(item) {
			continue
		}
		if s := strings.TrimSpace(rawString(item)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// rawInt accepts a JSON number or a string with a leading integer ("20000",
// "2019-05-01", " 150 PS"). Zero and unparsable values are treated as absent.
func rawInt(v json.RawMessage) *int {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		n := int(f)
		if n == 0 {
			return nil
		}
		return &n
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	n, ok := LeadingInt(s)
	if !ok || n == 0 {
		return nil
	}
	return &n
}

// LeadingInt parses the integer prefix of s after surrounding whitespace,
// allowing a single sign.
func LeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
