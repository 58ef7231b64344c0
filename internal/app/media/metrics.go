package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "media",
		Name:      "acquisitions_total",
		Help:      "Device acquisitions by outcome.",
	}, []string{"outcome"})

	forcedResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "media",
		Name:      "forced_resets_total",
		Help:      "Teardowns that exceeded the guard timeout and were force-reset to idle.",
	})
)
