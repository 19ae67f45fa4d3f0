// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CalculationsTotal counts reward previews by submission kind and outcome
	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_calculations_total",
		Help: "Number of reward bundle calculations.",
	}, []string{"kind", "outcome"})

	// FinalizationsTotal counts submissions made durable
	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_finalizations_total",
		Help: "Number of finalized submissions.",
	}, []string{"kind", "outcome"})

	// AllocationsTotal counts pool allocate calls by outcome
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_allocations_total",
		Help: "Number of pool allocation attempts.",
	}, []string{"outcome"})

	// AllocatedUnits counts successfully spent pool units
	AllocatedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reward_allocated_units_total",
		Help: "Total pool units successfully allocated.",
	})

	// PoolsOpened counts pools opened at finalization, by pool kind
	PoolsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_pools_opened_total",
		Help: "Number of allocation pools opened.",
	}, []string{"kind"})
)

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
