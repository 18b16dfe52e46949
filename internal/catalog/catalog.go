package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/viper"

	"github.com/vitrinai/backend/internal/models"
)

// Product maps one Gumroad permalink slug to its credit grant and plan tier.
type Product struct {
	Slug    string `json:"slug"`
	Credits int64  `json:"credits"`
	Plan    string `json:"plan"`
}

// Catalog is the static slug→product table. It is validated and frozen at
// startup; webhook processing only reads it.
type Catalog struct {
	products map[string]Product
}

var validPlans = map[string]bool{
	models.PlanBasic:    true,
	models.PlanStandard: true,
	models.PlanPremium:  true,
}

func defaultProducts() []Product {
	return []Product{
		{Slug: "temelpaket", Credits: 60, Plan: models.PlanBasic},
		{Slug: "standartpaket", Credits: 180, Plan: models.PlanStandard},
		{Slug: "premiumpaket", Credits: 500, Plan: models.PlanPremium},
	}
}

// Load builds a catalog from the given products, rejecting empty or duplicate
// slugs, non-positive credit amounts and unknown plan codes.
func Load(products []Product) (*Catalog, error) {
	if len(products) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	m := make(map[string]Product, len(products))
	for _, p := range products {
		if p.Slug == "" {
			return nil, fmt.Errorf("catalog entry with empty slug")
		}
		if _, dup := m[p.Slug]; dup {
			return nil, fmt.Errorf("duplicate catalog slug %q", p.Slug)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("catalog slug %q has non-positive credits %d", p.Slug, p.Credits)
		}
		if !validPlans[p.Plan] {
			return nil, fmt.Errorf("catalog slug %q has unknown plan %q", p.Slug, p.Plan)
		}
		m[p.Slug] = p
	}

	return &Catalog{products: m}, nil
}

// Default returns the built-in product table.
func Default() *Catalog {
	c, err := Load(defaultProducts())
	if err != nil {
		panic(err) // defaults are compile-time constants
	}
	return c
}

// FromConfig loads the catalog from the CATALOG_PRODUCTS JSON array if set,
// falling back to the defaults. Invalid overrides are a startup error.
func FromConfig() (*Catalog, error) {
	raw := viper.GetString("catalog.products")
	if raw == "" {
		return Default(), nil
	}

	var products []Product
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		return nil, fmt.Errorf("parsing catalog.products: %w", err)
	}
	return Load(products)
}

// Lookup resolves a slug. Unknown slugs are not an error at this layer; the
// webhook acknowledges them without side effects.
func (c *Catalog) Lookup(slug string) (Product, bool) {
	p, ok := c.products[slug]
	return p, ok
}

// Len reports the number of products, for startup logging.
func (c *Catalog) Len() int {
	return len(c.products)
}
