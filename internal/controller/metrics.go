package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	experienceStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footron_experience_starts_total",
		Help: "Number of successful experience starts by kind.",
	}, []string{"kind"})

	experienceStartFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footron_experience_start_failures_total",
		Help: "Number of experience starts that failed.",
	})

	currentSetThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footron_current_set_throttled_total",
		Help: "Number of current-experience sets rejected by the throttle window.",
	})
)
