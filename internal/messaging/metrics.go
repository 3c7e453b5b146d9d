package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagingConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "footron_messaging_connections",
		Help: "Open websocket connections by role.",
	}, []string{"role"})

	messagingDroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footron_messaging_dropped_frames_total",
		Help: "Frames the router could not deliver, by reason.",
	}, []string{"reason"})
)
