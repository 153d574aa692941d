// Package selector draws one dish per reel with a seedable weighted-random walk.
//
// Select is pure: for the same reels, locks, power-ups and random sequence it
// always returns the same dishes. Each non-locked, non-empty reel consumes exactly
// one draw from the random source, in reel order.
package selector

import (
	"fmt"
	"strings"

	"dinner-roulette/internal/dish"
)

// PlaceholderPrefix marks dishes synthesized for reels with no candidates.
const PlaceholderPrefix = "placeholder_"

const healthyBoost = 2.0

// Lock pins a dish into one reel for the current spin.
type Lock struct {
	Index  int    `json:"index" validate:"min=0"`
	DishID string `json:"dish_id" validate:"required"`
}

// PowerUps bias the draw toward healthier, cheaper or faster dishes.
type PowerUps struct {
	Healthy bool `json:"healthy,omitempty"`
	Cheap   bool `json:"cheap,omitempty"`
	Max30m  bool `json:"max30m,omitempty"`
}

// Rand yields floats in [0, 1).
type Rand func() float64

// Select returns one dish per reel, in reel order.
func Select(reels [][]dish.Dish, locks []Lock, powerups PowerUps, rng Rand) []dish.Dish {
	out := make([]dish.Dish, len(reels))
	for i, candidates := range reels {
		if d, ok := locked(i, candidates, locks); ok {
			out[i] = d
			continue
		}
		if len(candidates) == 0 {
			out[i] = Placeholder(i)
			continue
		}
		out[i] = draw(candidates, powerups, rng())
	}
	return out
}

// Placeholder returns the synthetic dish used for an empty reel.
func Placeholder(reelIndex int) dish.Dish {
	return dish.Dish{
		ID:        fmt.Sprintf("%s%d", PlaceholderPrefix, reelIndex),
		Name:      "No match",
		Tags:      []string{},
		Allergens: []string{},
		CostBand:  dish.MinBand,
		TimeBand:  dish.MinBand,
	}
}

// IsPlaceholder reports whether d was synthesized by Select.
func IsPlaceholder(d dish.Dish) bool {
	return strings.HasPrefix(d.ID, PlaceholderPrefix)
}

// locked finds the first lock for the reel whose dish is among its candidates.
func locked(index int, candidates []dish.Dish, locks []Lock) (dish.Dish, bool) {
	for _, l := range locks {
		if l.Index != index {
			continue
		}
		for _, d := range candidates {
			if d.ID == l.DishID {
				return d, true
			}
		}
	}
	return dish.Dish{}, false
}

func draw(candidates []dish.Dish, powerups PowerUps, u float64) dish.Dish {
	weights := make([]float64, len(candidates))
	var total float64
	for i, d := range candidates {
		weights[i] = Weight(d, powerups)
		total += weights[i]
	}

	r := u * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if cumulative > r {
			return candidates[i]
		}
	}
	// r landed on or past the last bucket through rounding
	return candidates[len(candidates)-1]
}

// Weight is the relative draw weight of a dish under the active power-ups.
// It is always positive and finite.
func Weight(d dish.Dish, powerups PowerUps) float64 {
	w := 1.0
	if powerups.Healthy && d.IsHealthy {
		w *= healthyBoost
	}
	if powerups.Cheap {
		w *= float64(dish.MaxBand + 1 - clampBand(d.CostBand))
	}
	if powerups.Max30m {
		w *= float64(dish.MaxBand + 1 - clampBand(d.TimeBand))
	}
	return w
}

func clampBand(b int) int {
	return min(max(b, dish.MinBand), dish.MaxBand)
}
