package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connections_live",
		Help: "Currently open websocket connections.",
	})

	RoomsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_rooms_live",
		Help: "Rooms currently present in the registry.",
	})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_events_total",
		Help: "Inbound events by kind.",
	}, []string{"kind"})

	DroppedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signaling_dropped_events_total",
		Help: "Inbound events dropped as malformed, unknown or unroutable.",
	})
)

func init() {
	prometheus.MustRegister(ConnectionsLive, RoomsLive, EventsTotal, DroppedEventsTotal)
}

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
