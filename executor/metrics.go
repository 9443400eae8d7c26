package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noema_executor_runs_total",
		Help: "Procedure runs by final status.",
	}, []string{"status"})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noema_executor_steps_total",
		Help: "Processed steps by outcome.",
	}, []string{"outcome"})
)
