package activation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "giftline",
	Subsystem: "orchestrator",
	Name:      "outcomes_total",
	Help:      "Orchestrator results by operation and outcome.",
}, []string{"operation", "outcome"})
