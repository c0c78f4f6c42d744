package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

//go:embed data/catalog.json
var embeddedCatalog []byte

// Select option values on the search form carry this prefix; the site's
// query grammar expects the bare number.
const optionValuePrefix = "number:"

var (
	ErrEmptyCatalog   = errors.New("catalog has no brands")
	ErrOrphanModels   = errors.New("models reference a brand missing from the brand table")
	ErrDanglingAlias  = errors.New("alias target is not a catalog brand")
	defaultCatalog    *Catalog
	defaultCatalogErr error
	defaultOnce       sync.Once
)

// Catalog is the immutable brand/model lookup table for the target site.
// It is safe for concurrent use; nothing mutates it after Load returns.
type Catalog struct {
	version     string
	generatedAt time.Time
	brands      map[string]string
	models      map[string]map[string]string
	aliases     map[string]string
	brandNames  []string
}

// Default returns the catalog compiled into the binary. The asset is parsed
// once per process.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = Load(bytes.NewReader(embeddedCatalog))
	})
	return defaultCatalog, defaultCatalogErr
}

// LoadFile reads a regenerated catalog asset from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load parses a catalog asset and validates its invariants.
func Load(r io.Reader) (*Catalog, error) {
	var a Asset
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	if len(a.Brands) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		version:     a.Version,
		generatedAt: a.GeneratedAt,
		brands:      make(map[string]string, len(a.Brands)),
		models:      make(map[string]map[string]string, len(a.Models)),
		aliases:     make(map[string]string, len(a.Aliases)),
	}

	for name, id := range a.Brands {
		c.brands[name] = strings.TrimPrefix(strings.TrimSpace(id), optionValuePrefix)
		c.brandNames = append(c.brandNames, name)
	}
	sort.Strings(c.brandNames)

	for brand, models := range a.Models {
		if _, ok := c.brands[brand]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrOrphanModels, brand)
		}
		m := make(map[string]string, len(models))
		for name, id := range models {
			m[name] = strings.TrimPrefix(strings.TrimSpace(id), optionValuePrefix)
		}
		c.models[brand] = m
	}

	for from, to := range a.Aliases {
		if _, ok := c.brands[to]; !ok {
			return nil, fmt.Errorf("%w: %q -> %q", ErrDanglingAlias, from, to)
		}
		c.aliases[from] = to
	}

	return c, nil
}

// ResolveBrand maps a partner spelling onto the catalog spelling. Names
// without an alias pass through unchanged.
func (c *Catalog) ResolveBrand(name string) string {
	if canonical, ok := c.aliases[name]; ok {
		return canonical
	}
	return name
}

// BrandID looks up the site identifier of a canonical brand name.
func (c *Catalog) BrandID(brand string) (string, bool) {
	id, ok := c.brands[brand]
	return id, ok
}

// ModelID looks up the site identifier of a model under a canonical brand.
func (c *Catalog) ModelID(brand, model string) (string, bool) {
	models, ok := c.models[brand]
	if !ok {
		return "", false
	}
	id, ok := models[model]
	return id, ok
}

// Brands returns all canonical brand names in lexical order.
func (c *Catalog) Brands() []string {
	out := make([]string, len(c.brandNames))
	copy(out, c.brandNames)
	return out
}

// Models returns the model names of a brand in lexical order.
func (c *Catalog) Models(brand string) []string {
	models := c.models[brand]
	out := make([]string, 0, len(models))
	for name := range models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Aliases returns a copy of the partner-spelling alias table.
func (c *Catalog) Aliases() map[string]string {
	out := make(map[string]string, len(c.aliases))
	for k, v := range c.aliases {
		out[k] = v
	}
	return out
}

func (c *Catalog) Version() string {
	return c.version
}

func (c *Catalog) GeneratedAt() time.Time {
	return c.generatedAt
}
