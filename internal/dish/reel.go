package dish

import "dinner-roulette/internal/preference"

// Reel is a named slot holding the candidates a spin draws from.
type Reel struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Candidates []Dish   `json:"candidates"`
}

// ReelSpec describes one slot of a reel layout.
type ReelSpec struct {
	Name     string
	Category Category
}

// DefaultReels is the layout used when the caller does not pick one.
var DefaultReels = []ReelSpec{
	{Name: "Main Dish", Category: CategoryMain},
	{Name: "Side Dish", Category: CategorySide},
	{Name: "Drink", Category: CategoryDrink},
	{Name: "Dessert", Category: CategoryDessert},
}

// dietTags lists the tags that satisfy each ranked diet.
var dietTags = map[preference.Diet][]string{
	preference.DietVegan:       {"vegan"},
	preference.DietVegetarian:  {"vegetarian", "vegan"},
	preference.DietPescatarian: {"pescatarian", "vegetarian", "vegan"},
}

// BuildReels filters the catalog into one reel per spec. Catalog order is kept.
func BuildReels(catalog []Dish, merged preference.MergedConstraints, layout []ReelSpec) []Reel {
	if len(layout) == 0 {
		layout = DefaultReels
	}

	reels := make([]Reel, len(layout))
	for i, spec := range layout {
		reels[i] = Reel{Name: spec.Name, Category: spec.Category, Candidates: []Dish{}}
		for _, d := range catalog {
			if d.Category == spec.Category && Satisfies(d, merged) {
				reels[i].Candidates = append(reels[i].Candidates, d)
			}
		}
	}
	return reels
}

// Satisfies reports whether a dish is acceptable under the merged constraints.
func Satisfies(d Dish, merged preference.MergedConstraints) bool {
	if d.ContainsAny(merged.Allergens) {
		return false
	}
	if merged.BudgetBand != nil && d.CostBand > *merged.BudgetBand {
		return false
	}
	if merged.TimeBand != nil && d.TimeBand > *merged.TimeBand {
		return false
	}
	for _, diet := range merged.Diet {
		tags, ok := dietTags[diet]
		if !ok {
			continue
		}
		accepted := false
		for _, tag := range tags {
			if d.HasTag(tag) {
				accepted = true
				break
			}
		}
		if !accepted {
			return false
		}
	}
	return true
}

// Candidates unwraps reels into the per-reel candidate lists.
func Candidates(reels []Reel) [][]Dish {
	out := make([][]Dish, len(reels))
	for i, r := range reels {
		out[i] = r.Candidates
	}
	return out
}
