// Package metrics exposes the counters §2's data-flow paragraph names
// ("records games/started") plus the companion game-end counter and
// queue-depth gauge, via prometheus/client_golang as used elsewhere in
// the retrieved pack (cryptorun, dungeongate, ocx-backend).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GamesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "games_started_total",
		Help:      "Total games started, by category.",
	}, []string{"category"})

	GamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "games_ended_total",
		Help:      "Total games ended, by category and termination.",
	}, []string{"category", "termination"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena",
		Name:      "queue_depth",
		Help:      "Current number of seekers waiting, by category.",
	}, []string{"category"})

	PersistenceWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "persistence_write_failures_total",
		Help:      "End-of-game commits that failed synchronously and fell back to the retry queue.",
	})
)
