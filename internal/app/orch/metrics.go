package orch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "server",
		Name:      "session_creations_total",
		Help:      "Session creation requests by outcome.",
	}, []string{"outcome"})

	invitesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "server",
		Name:      "invites_expired_total",
		Help:      "Pending invites expired by the sweeper.",
	})

	feedDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livecall",
		Subsystem: "server",
		Name:      "feed_drops_total",
		Help:      "Invite feed subscribers dropped for backpressure.",
	})
)
