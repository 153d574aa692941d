package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SpinsTotal counts completed spins by kind (party or solo).
	SpinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dinner_roulette",
		Name:      "spins_total",
		Help:      "Completed spins by kind.",
	}, []string{"kind"})

	// PlaceholdersTotal counts reels that produced no candidate.
	PlaceholdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dinner_roulette",
		Name:      "placeholders_total",
		Help:      "Reels resolved to a placeholder dish.",
	})

	// MergeConflictsTotal counts merges flagged as likely unsatisfiable.
	MergeConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dinner_roulette",
		Name:      "merge_conflicts_total",
		Help:      "Preference merges that raised a conflict.",
	})
)
