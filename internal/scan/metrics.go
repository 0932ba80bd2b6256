package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muster_scan_scans_total",
		Help: "Completed network scans by probe mode.",
	}, []string{"mode"})

	hostsProbed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muster_scan_hosts_probed_total",
		Help: "Total host targets submitted to probing.",
	})
)
