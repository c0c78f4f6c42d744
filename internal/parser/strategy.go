package parser

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// container is one listing element with its derived text forms computed once.
type container struct {
	sel   *goquery.Selection
	lines []string
	text  string
	lower string

	ldOnce sync.Once
	ld     []map[string]any
}

func newContainer(sel *goquery.Selection) *container {
	lines := visibleLines(sel)
	text := strings.Join(lines, "\n")
	return &container{
		sel:   sel,
		lines: lines,
		text:  text,
		lower: strings.ToLower(text),
	}
}

// jsonLD returns the JSON-LD objects embedded in the container. Graphs and
// top-level arrays are flattened.
func (c *container) jsonLD() []map[string]any {
	c.ldOnce.Do(func() {
		c.sel.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
			var v any
			if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
				return
			}
			c.ld = append(c.ld, flattenLD(v)...)
		})
	})
	return c.ld
}

func flattenLD(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, flattenLD(item)...)
		}
		return out
	case map[string]any:
		out := []map[string]any{t}
		if graph, ok := t["@graph"]; ok {
			out = append(out, flattenLD(graph)...)
		}
		return out
	}
	return nil
}

// Strategy recovers one field from a container, or reports it absent.
type Strategy struct {
	Name    string
	Extract func(c *container) (string, bool)
}

// Field is an ordered list of strategies; the first hit wins.
type Field struct {
	Name       string
	Strategies []Strategy
}

// Extract runs the strategies in order and returns the value with the name of
// the strategy that produced it.
func (f Field) Extract(c *container) (value, strategy string, ok bool) {
	for _, s := range f.Strategies {
		if v, ok := s.Extract(c); ok {
			return v, s.Name, true
		}
	}
	return "", "", false
}

// keyword is one entry of an ordered keyword dictionary.
type keyword struct {
	term  string
	value string
}

func firstKeyword(lower string, dict []keyword) (string, bool) {
	for _, k := range dict {
		if strings.Contains(lower, k.term) {
			return k.value, true
		}
	}
	return "", false
}
