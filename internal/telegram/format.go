package telegram

import (
	"fmt"
	"strings"

	"dinner-roulette/internal/metrics"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/preference"
)

var reelEmoji = map[string]string{
	"main":    "🍽",
	"side":    "🥗",
	"drink":   "🥤",
	"dessert": "🍰",
}

func formatSpin(rec party.SpinRecord) string {
	var sb strings.Builder
	if rec.Counter > 0 {
		fmt.Fprintf(&sb, "🎰 *Spin #%d*\n\n", rec.Counter)
	} else {
		sb.WriteString("🎰 *Your spin*\n\n")
	}

	for _, r := range rec.Results {
		emoji := reelEmoji[string(r.Category)]
		if r.Placeholder {
			fmt.Fprintf(&sb, "%s *%s*: _no match_\n", emoji, r.Reel)
			continue
		}
		fmt.Fprintf(&sb, "%s *%s*: %s", emoji, r.Reel, r.Dish.Name)
		if r.Dish.IsHealthy {
			sb.WriteString(" 💚")
		}
		sb.WriteString("\n")
	}

	if rec.Constraints.Conflict {
		sb.WriteString("\n⚠️ " + strings.Join(rec.Constraints.Suggestions, "\n⚠️ ") + "\n")
	}
	fmt.Fprintf(&sb, "\n🔑 Seed: `%s`", rec.Seed)
	return sb.String()
}

func formatConstraints(result preference.Result) string {
	m := result.Merged
	var sb strings.Builder
	sb.WriteString("🧾 *Party constraints*\n\n")

	if len(m.Diet) == 0 {
		sb.WriteString("• Diet: anything\n")
	} else {
		diets := make([]string, len(m.Diet))
		for i, d := range m.Diet {
			diets[i] = string(d)
		}
		fmt.Fprintf(&sb, "• Diet: %s\n", strings.Join(diets, ", "))
	}
	if len(m.Allergens) == 0 {
		sb.WriteString("• Allergens: none\n")
	} else {
		fmt.Fprintf(&sb, "• Allergens: %s\n", strings.Join(m.Allergens, ", "))
	}
	fmt.Fprintf(&sb, "• Budget: %s\n", bandLabel(m.BudgetBand, "$"))
	fmt.Fprintf(&sb, "• Time: %s\n", bandLabel(m.TimeBand, "⏱"))

	for _, s := range result.Suggestions {
		fmt.Fprintf(&sb, "\n⚠️ %s", s)
	}
	return sb.String()
}

func bandLabel(band *int, symbol string) string {
	if band == nil {
		return "any"
	}
	return strings.Repeat(symbol, *band)
}

func formatMetrics(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• *%s*: %d spins, %d tokens (%d execs)\n", d.Date, d.Spins, d.TotalPrompt+d.TotalCompletion, d.TotalExecution)
	}

	sb.WriteString("\n🧠 *System Health*\n")
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Uptime: %s\n", health.Uptime)
	fmt.Fprintf(&sb, "• Disk Data: %s\n", health.DataDiskSize)
	return sb.String()
}

const helpText = `🎲 *Dinner Roulette*

/newparty <nickname> – start a party
/join <code> <nickname> – join a party
/prefs diet=vegan allergens=nuts,soy budget=2 time=1
/constraints – show the merged party constraints
/spin [healthy] [cheap] [max30m] [lock=main:dish-id]
/solo [diet=...] [seed=...] [healthy] – spin just for you
/leave – leave the party`
