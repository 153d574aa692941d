package preference

import "slices"

// ConflictAllergenThreshold is the allergen count a vegan group may reach before
// the merge is flagged as likely unsatisfiable.
const ConflictAllergenThreshold = 3

// ConflictSuggestion is the advisory attached to a conflicting merge.
const ConflictSuggestion = "Too many allergens with vegan. Consider dropping one or relaxing to vegetarian."

// strictness ranks the ethical diets. Diets outside this map do not take part in the ranking.
var strictness = map[Diet]int{
	DietOmnivore:    1,
	DietPescatarian: 2,
	DietVegetarian:  3,
	DietVegan:       4,
}

// Strictness returns the rank of an ethical diet and whether it is ranked at all.
func Strictness(d Diet) (int, bool) {
	rank, ok := strictness[d]
	return rank, ok
}

// MergedConstraints is the group constraint set derived from every member's preference.
// It is recomputed on demand and never stored as source of truth.
type MergedConstraints struct {
	Diet       []Diet   `json:"diet,omitempty"`
	Allergens  []string `json:"allergens,omitempty"`
	BudgetBand *int     `json:"budget_band,omitempty"`
	TimeBand   *int     `json:"time_band,omitempty"`
}

// Result is the output of Merge.
type Result struct {
	Merged      MergedConstraints `json:"merged"`
	Conflict    bool              `json:"conflict"`
	Suggestions []string          `json:"suggestions"`
}

// Merge reconciles the preferences of all members into one constraint set.
//
// The strictest ranked diet wins, allergens are unioned, and each band takes the
// minimum over the members that set it. Omnivore restricts nothing, so a group
// whose strictest diet is omnivore has no merged diet. Allergens are compared in
// their normalized form. Input is assumed to have passed Validate.
func Merge(prefs []MemberPreference) Result {
	var (
		merged  MergedConstraints
		topRank int
		topDiet Diet
		seen    = make(map[string]struct{})
	)

	for _, p := range prefs {
		if p.Diet != "" && p.Diet != DietNone {
			if rank, ok := strictness[p.Diet]; ok && rank > topRank {
				topRank, topDiet = rank, p.Diet
			}
		}

		for _, a := range p.Allergens {
			a = NormalizeAllergen(a)
			if a == "" {
				continue
			}
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			merged.Allergens = append(merged.Allergens, a)
		}

		merged.BudgetBand = minBand(merged.BudgetBand, p.BudgetBand)
		merged.TimeBand = minBand(merged.TimeBand, p.TimeBand)
	}

	if topRank > strictness[DietOmnivore] {
		merged.Diet = []Diet{topDiet}
	}
	slices.Sort(merged.Allergens)

	result := Result{Merged: merged, Suggestions: []string{}}
	if topDiet == DietVegan && len(merged.Allergens) > ConflictAllergenThreshold {
		result.Conflict = true
		result.Suggestions = append(result.Suggestions, ConflictSuggestion)
	}
	return result
}

func minBand(current, candidate *int) *int {
	if candidate == nil {
		return current
	}
	if current == nil || *candidate < *current {
		v := *candidate
		return &v
	}
	return current
}
