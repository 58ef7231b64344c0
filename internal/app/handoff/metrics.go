package handoff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invitesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "handoff",
		Name:      "invites_total",
		Help:      "Invites seen by the fan-side consumer, by outcome and delivery path.",
	}, []string{"outcome", "path"})

	startsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "handoff",
		Name:      "session_starts_total",
		Help:      "Creator session start attempts by outcome.",
	}, []string{"outcome"})
)
