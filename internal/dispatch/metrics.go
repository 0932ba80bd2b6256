package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fleetRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muster_dispatch_fleet_runs_total",
		Help: "Fleet command dispatches by outcome.",
	}, []string{"outcome"})

	deviceResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muster_dispatch_device_results_total",
		Help: "Per-device dispatch results by outcome.",
	}, []string{"outcome"})
)
