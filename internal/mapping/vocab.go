package mapping

// Vocabulary maps partner and site spellings onto site filter ids. A nil
// entry is a known value the site has no filter for.
type Vocabulary struct {
	name       string
	exact      map[string]*string
	normalized map[string]*string
}

func newVocabulary(name string, entries map[string]string, unmapped ...string) *Vocabulary {
	v := &Vocabulary{
		name:       name,
		exact:      make(map[string]*string, len(entries)+len(unmapped)),
		normalized: make(map[string]*string, len(entries)+len(unmapped)),
	}
	for key, id := range entries {
		v.exact[key] = &id
		v.normalized[Normalize(key)] = &id
	}
	for _, key := range unmapped {
		v.exact[key] = nil
		v.normalized[Normalize(key)] = nil
	}
	return v
}

// Lookup returns the site id for value. Exact spellings win over the
// accent- and case-folded form.
func (v *Vocabulary) Lookup(value string) (string, bool) {
	id, ok := v.exact[value]
	if !ok {
		id, ok = v.normalized[Normalize(value)]
	}
	if !ok || id == nil {
		return "", false
	}
	return *id, true
}

func (v *Vocabulary) Name() string {
	return v.name
}

var (
	FuelTypes = newVocabulary("fuel", map[string]string{
		"Gasolina":                     "1",
		"Benzin":                       "1",
		"Diésel":                       "2",
		"Diesel":                       "2",
		"Gas de automoción":            "3",
		"Gas natural":                  "8",
		"Eléctrico":                    "4",
		"Elektro":                      "4",
		"Híbrido (gasolina/eléctrico)": "10",
		"Híbrido (diésel/eléctrico)":   "11",
		"Hybrid":                       "5",
		"Hidrógeno":                    "12",
	}, "Etanol (FFV,E85, etc.)", "Otro")

	Transmissions = newVocabulary("transmission", map[string]string{
		"Manual":         "tm-1",
		"manual":         "tm-1",
		"Schaltgetriebe": "tm-1",
		"Automático":     "tm-2",
		"automatico":     "tm-2",
		"Automatik":      "tm-2",
	})

	Conditions = newVocabulary("condition", map[string]string{
		"new":                "st-1",
		"used":               "st-2",
		"annual":             "st-3",
		"demo":               "st-4",
		"company":            "st-5",
		"daily_registration": "st-6",
		"youngtimer":         "st-9",
		"classic":            "st-10",
	})

	BodyTypes = newVocabulary("body_type", map[string]string{
		"SUV":           "bt-17",
		"Sedan":         "bt-1",
		"Compact":       "bt-2",
		"Coupe":         "bt-3",
		"Station Wagon": "bt-4",
		"Convertible":   "bt-5",
		"Hatchback":     "bt-6",
		"Van":           "bt-16",
		"Pickup":        "bt-92",
	})
)

// FourWheelDriveFilterID is the site's "Allrad" toggle.
const FourWheelDriveFilterID = "14"
