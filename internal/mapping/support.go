package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/maltedev/carzilla-scraper/internal/catalog"
	"github.com/maltedev/carzilla-scraper/internal/models"
)

const (
	maxAlternatives    = 3
	maxAvailableModels = 5
)

// Checker answers whether a brand/model can be searched before any network
// work is done.
type Checker struct {
	catalog *catalog.Catalog
}

func NewChecker(cat *catalog.Catalog) *Checker {
	return &Checker{catalog: cat}
}

// ResolveBrand returns the catalog spelling of a partner brand name.
func (c *Checker) ResolveBrand(name string) string {
	return c.catalog.ResolveBrand(name)
}

func (c *Checker) IsSearchSupported(makeName, model string) models.SupportVerdict {
	brand := c.catalog.ResolveBrand(makeName)
	if _, ok := c.catalog.BrandID(brand); !ok || strings.TrimSpace(makeName) == "" {
		return models.SupportVerdict{
			Supported:    false,
			Reason:       fmt.Sprintf("Brand %q not available on Carzilla.de", makeName),
			Alternatives: c.Alternatives(makeName),
		}
	}

	if model != "" {
		if _, ok := c.catalog.ModelID(brand, model); !ok {
			available := c.catalog.Models(brand)
			if len(available) > maxAvailableModels {
				available = available[:maxAvailableModels]
			}
			return models.SupportVerdict{
				Supported:       true,
				Warning:         fmt.Sprintf("Model %q not found for %s, searching all %s models", model, brand, brand),
				AvailableModels: available,
			}
		}
	}

	return models.SupportVerdict{
		Supported: true,
		Reason:    "Full search parameters supported",
	}
}

// Alternatives suggests up to three catalog brands for an unknown name.
// Brands containing the name win; otherwise the closest spellings are used
// so the list is never empty.
func (c *Checker) Alternatives(name string) []string {
	needle := Normalize(name)
	brands := c.catalog.Brands()

	var out []string
	if needle != "" {
		for _, brand := range brands {
			if strings.Contains(Normalize(brand), needle) {
				out = append(out, brand)
				if len(out) == maxAlternatives {
					return out
				}
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	type candidate struct {
		brand    string
		distance int
	}
	candidates := make([]candidate, 0, len(brands))
	for _, brand := range brands {
		candidates = append(candidates, candidate{brand: brand, distance: levenshtein(needle, Normalize(brand))})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	for i := 0; i < len(candidates) && i < maxAlternatives; i++ {
		out = append(out, candidates[i].brand)
	}
	return out
}
