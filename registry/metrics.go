package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricUpdatesQueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "statelayer_registry_updates_queued_total",
	Help: "State updates queued for the sync pipeline, by kind.",
}, []string{"kind"})
