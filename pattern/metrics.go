package pattern

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noema_pattern_transfers_total",
		Help: "Pattern transfers by outcome (persisted or discarded).",
	}, []string{"outcome"})

	generalizationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "noema_pattern_generalizations_total",
		Help: "Generalized parent concepts created.",
	})
)
