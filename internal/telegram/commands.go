package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/preference"
	"dinner-roulette/internal/selector"
)

// splitCommand separates "/spin@MyBot cheap lock=0:tofu" into "spin" and its arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

// parsePreference reads key=value pairs such as
// "diet=vegan allergens=nuts,soy budget=2 time=1 seed=friday".
// The seed is returned separately since it is not part of a preference.
func parsePreference(args []string) (preference.MemberPreference, string, error) {
	var (
		pref preference.MemberPreference
		seed string
	)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "diet":
			pref.Diet = preference.Diet(strings.ToLower(value))
		case "allergens", "allergies":
			pref.Allergens = append(pref.Allergens, strings.Split(value, ",")...)
		case "budget", "cost":
			band, err := strconv.Atoi(value)
			if err != nil {
				return pref, "", fmt.Errorf("budget must be a number from 1 to 3")
			}
			pref.BudgetBand = preference.Band(band)
		case "time":
			band, err := strconv.Atoi(value)
			if err != nil {
				return pref, "", fmt.Errorf("time must be a number from 1 to 3")
			}
			pref.TimeBand = preference.Band(band)
		case "seed":
			seed = value
		default:
			return pref, "", fmt.Errorf("unknown option %q", key)
		}
	}
	return pref.Normalized(), seed, nil
}

// parseSpin reads power-up flags and lock=<reel>:<dishId> pairs. The reel may be
// its index or its category name.
func parseSpin(args []string) (party.SpinRequest, error) {
	var req party.SpinRequest
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case "healthy":
			req.PowerUps.Healthy = true
			continue
		case "cheap":
			req.PowerUps.Cheap = true
			continue
		case "max30m", "fast":
			req.PowerUps.Max30m = true
			continue
		}

		value, ok := strings.CutPrefix(arg, "lock=")
		if !ok {
			continue
		}
		reel, dishID, ok := strings.Cut(value, ":")
		if !ok || dishID == "" {
			return req, fmt.Errorf("lock must look like lock=main:dish-id")
		}
		index, err := reelIndex(reel)
		if err != nil {
			return req, err
		}
		req.Locks = append(req.Locks, selector.Lock{Index: index, DishID: dishID})
	}
	return req, nil
}

func reelIndex(reel string) (int, error) {
	if n, err := strconv.Atoi(reel); err == nil {
		if n < 0 || n >= len(dish.DefaultReels) {
			return 0, fmt.Errorf("reel %d does not exist", n)
		}
		return n, nil
	}
	for i, spec := range dish.DefaultReels {
		if strings.EqualFold(string(spec.Category), reel) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown reel %q", reel)
}
