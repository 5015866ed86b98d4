package serve

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Serving metrics, registered on the default Prometheus registerer so the
// daemon's /metrics endpoint picks them up without extra wiring.
var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depot_http_requests_total",
			Help: "File requests handled by the serving layer, by store and status code",
		},
		[]string{"store", "code"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depot_http_bytes_total",
			Help: "Payload bytes streamed to clients, by store",
		},
		[]string{"store"},
	)
)

func observeRequest(store string, code int) {
	requestsTotal.WithLabelValues(store, strconv.Itoa(code)).Inc()
}

func observeBytes(store string, n int64) {
	if n > 0 {
		bytesTotal.WithLabelValues(store).Add(float64(n))
	}
}
