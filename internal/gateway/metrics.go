package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giftline",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Gateway calls by command and result.",
	}, []string{"command", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "giftline",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Gateway call latency by command.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 15},
	}, []string{"command"})
)

func observe(cmd Command, seconds float64, resp response, err error) {
	result := "approved"
	if err == nil && !resp.approved() {
		result = KindDeclined.String()
	}
	if err != nil {
		if kind, ok := KindOf(err); ok {
			result = kind.String()
		} else {
			result = "error"
		}
	}
	requestsTotal.WithLabelValues(string(cmd), result).Inc()
	requestDuration.WithLabelValues(string(cmd)).Observe(seconds)
}
