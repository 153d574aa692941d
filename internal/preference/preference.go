package preference

import (
	"slices"
	"strings"

	"dinner-roulette/internal/validation"
)

// Diet is a member's dietary style.
type Diet string

const (
	DietNone        Diet = "none"
	DietOmnivore    Diet = "omnivore"
	DietPescatarian Diet = "pescatarian"
	DietVegetarian  Diet = "vegetarian"
	DietVegan       Diet = "vegan"
	DietKeto        Diet = "keto"
	DietPaleo       Diet = "paleo"
	DietHalal       Diet = "halal"
	DietKosher      Diet = "kosher"
)

// MemberPreference is one member's dietary input.
type MemberPreference struct {
	Nickname   string   `json:"nickname,omitempty" validate:"omitempty,max=40"`
	Diet       Diet     `json:"diet,omitempty" validate:"omitempty,oneof=none omnivore pescatarian vegetarian vegan keto paleo halal kosher"`
	Allergens  []string `json:"allergens,omitempty" validate:"omitempty,max=32,dive,required,max=40"`
	BudgetBand *int     `json:"budget_band,omitempty" validate:"omitempty,min=1,max=3"`
	TimeBand   *int     `json:"time_band,omitempty" validate:"omitempty,min=1,max=3"`
}

// Band returns a pointer to v, for building preferences in code.
func Band(v int) *int {
	return &v
}

// Validate rejects out-of-range bands and unknown diets before a record reaches Merge.
// Failures are reported as *validation.Error.
func Validate(p MemberPreference) error {
	return validation.Struct(p)
}

// NormalizeAllergen folds an allergen name to the lower-case, trimmed form the catalog uses.
func NormalizeAllergen(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// Normalized returns a copy of p with allergens folded and deduplicated. Blank entries are dropped.
func (p MemberPreference) Normalized() MemberPreference {
	if p.Allergens == nil {
		return p
	}
	allergens := make([]string, 0, len(p.Allergens))
	for _, a := range p.Allergens {
		a = NormalizeAllergen(a)
		if a == "" || slices.Contains(allergens, a) {
			continue
		}
		allergens = append(allergens, a)
	}
	p.Allergens = allergens
	return p
}
