package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSyncedEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statelayer_node_synced_epoch",
		Help: "Last epoch whose updates were accepted by every route.",
	})
	metricCurrentEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statelayer_node_current_epoch",
		Help: "Current epoch derived from the chain height.",
	})
)
