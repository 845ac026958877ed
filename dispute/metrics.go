package dispute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statelayer_dispute_challenges_open",
		Help: "Challenges currently open",
	})
	resolvedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statelayer_dispute_challenges_resolved_total",
		Help: "Resolved challenges, by outcome",
	}, []string{"outcome"})
)

type engineMetrics struct {
	open     prometheus.Gauge
	resolved *prometheus.CounterVec
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		open:     openGauge,
		resolved: resolvedCounter,
	}
}
