// Package taxonomy holds the fixed category reference data. It is loaded once
// from an embedded definition and never mutated afterwards.
package taxonomy

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/memgraph/internal/model"
)

//go:embed taxonomy.yaml
var definition []byte

// domainOrder fixes listing order; YAML maps are unordered once decoded.
var domainOrder = []model.Domain{
	model.DomainSelf,
	model.DomainSocial,
	model.DomainKnowledge,
	model.DomainInterest,
	model.DomainEpisode,
	model.DomainMeta,
}

// Taxonomy is a read-only category index.
type Taxonomy struct {
	byPath   map[string]model.Category
	byDomain map[model.Domain][]model.Category
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
	defaultErr  error
)

// Default returns the process-wide taxonomy parsed from the embedded definition.
func Default() (*Taxonomy, error) {
	defaultOnce.Do(func() {
		defaultTax, defaultErr = Parse(definition)
	})
	return defaultTax, defaultErr
}

// MustDefault is Default for callers that treat a broken embedded file as fatal.
func MustDefault() *Taxonomy {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Parse builds a taxonomy from a YAML document mapping domain -> categories.
func Parse(raw []byte) (*Taxonomy, error) {
	var doc map[model.Domain][]model.Category
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := &Taxonomy{
		byPath:   make(map[string]model.Category),
		byDomain: make(map[model.Domain][]model.Category),
	}
	for domain, cats := range doc {
		if !model.ValidDomains[domain] {
			return nil, fmt.Errorf("parse taxonomy: unknown domain %q", domain)
		}
		for _, c := range cats {
			if c.Name == "" {
				return nil, fmt.Errorf("parse taxonomy: empty category name in %q", domain)
			}
			if c.ImportanceMin > c.ImportanceMax {
				return nil, fmt.Errorf("parse taxonomy: %s/%s has min > max", domain, c.Name)
			}
			c.Domain = domain
			c.FullPath = string(domain) + "/" + c.Name
			if _, dup := t.byPath[c.FullPath]; dup {
				return nil, fmt.Errorf("parse taxonomy: duplicate category %q", c.FullPath)
			}
			t.byPath[c.FullPath] = c
			t.byDomain[domain] = append(t.byDomain[domain], c)
		}
	}
	return t, nil
}

// ListByDomain returns the categories of a domain in definition order.
func (t *Taxonomy) ListByDomain(domain model.Domain) []model.Category {
	return append([]model.Category(nil), t.byDomain[domain]...)
}

// Resolve looks up a category by its "domain/name" path.
func (t *Taxonomy) Resolve(fullPath string) (model.Category, error) {
	c, ok := t.byPath[fullPath]
	if !ok {
		return model.Category{}, model.NotFoundf("category %q", fullPath)
	}
	return c, nil
}

// All returns every category, grouped by domain.
func (t *Taxonomy) All() []model.Category {
	var out []model.Category
	for _, d := range domainOrder {
		out = append(out, t.byDomain[d]...)
	}
	return out
}

// Validate checks a category assignment: it must be non-empty, every entry
// must be known, and importance must fall inside at least one assigned range.
func (t *Taxonomy) Validate(refs []model.CategoryRef, importance float64) error {
	if len(refs) == 0 {
		return model.Validationf("categories must not be empty")
	}
	allowed := false
	for _, ref := range refs {
		c, ok := t.byPath[ref.Path()]
		if !ok {
			return model.Validationf("unknown category %q", ref.Path())
		}
		if c.Allows(importance) {
			allowed = true
		}
	}
	if !allowed {
		return model.Validationf("importance %.2f outside every assigned category range", importance)
	}
	return nil
}
