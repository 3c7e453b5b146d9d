package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "footron_api_request_duration_seconds",
	Help:    "Operator API request latency by method.",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})
