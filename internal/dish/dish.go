package dish

import (
	"fmt"
	"slices"
	"strings"
)

// Category groups dishes into reels.
type Category string

const (
	CategoryMain    Category = "main"
	CategorySide    Category = "side"
	CategoryDrink   Category = "drink"
	CategoryDessert Category = "dessert"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryMain, CategorySide, CategoryDrink, CategoryDessert}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Band bounds shared by cost and time bands.
const (
	MinBand = 1
	MaxBand = 3
)

// Dish is a read-only catalog entry.
type Dish struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Tags        []string `json:"tags"`
	Allergens   []string `json:"allergens"`
	CostBand    int      `json:"cost_band"`
	TimeBand    int      `json:"time_band"`
	IsHealthy   bool     `json:"is_healthy"`
	SearchQuery string   `json:"search_query,omitempty"`
}

// HasTag reports whether the dish carries the tag.
func (d Dish) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// ContainsAny reports whether any of the given allergens is present in the dish.
// Names are compared after trimming and case folding.
func (d Dish) ContainsAny(allergens []string) bool {
	for _, a := range allergens {
		a = strings.TrimSpace(a)
		for _, have := range d.Allergens {
			if strings.EqualFold(strings.TrimSpace(have), a) {
				return true
			}
		}
	}
	return false
}

// Validate checks catalog invariants before a dish is stored.
func (d Dish) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("dish id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("dish %s: name is required", d.ID)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("dish %s: unknown category %q", d.ID, d.Category)
	}
	if d.CostBand < MinBand || d.CostBand > MaxBand {
		return fmt.Errorf("dish %s: cost band %d out of range", d.ID, d.CostBand)
	}
	if d.TimeBand < MinBand || d.TimeBand > MaxBand {
		return fmt.Errorf("dish %s: time band %d out of range", d.ID, d.TimeBand)
	}
	return nil
}
