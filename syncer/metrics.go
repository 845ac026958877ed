package syncer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSentCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statelayer_syncer_messages_sent_total",
		Help: "Bridged sync messages sent, by destination chain and message kind",
	}, []string{"chain", "kind"})
	sendFailuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statelayer_syncer_send_failures_total",
		Help: "Failed bridge sends, by destination chain and message kind",
	}, []string{"chain", "kind"})
	appliedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statelayer_syncer_applied_total",
		Help: "State updates and snapshots applied by the replica, by kind",
	}, []string{"kind"})
	duplicatesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statelayer_syncer_duplicate_messages_total",
		Help: "Bridged messages dropped as already processed",
	})
	rejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statelayer_syncer_rejected_messages_total",
		Help: "Bridged messages rejected, by reason",
	}, []string{"reason"})
)

type senderMetrics struct {
	messagesSent *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
}

func newSenderMetrics() *senderMetrics {
	return &senderMetrics{
		messagesSent: messagesSentCounter,
		sendFailures: sendFailuresCounter,
	}
}

type receiverMetrics struct {
	applied    *prometheus.CounterVec
	duplicates prometheus.Counter
	rejected   *prometheus.CounterVec
}

func newReceiverMetrics() *receiverMetrics {
	return &receiverMetrics{
		applied:    appliedCounter,
		duplicates: duplicatesCounter,
		rejected:   rejectedCounter,
	}
}

func chainLabel(chainID uint32) string {
	return strconv.FormatUint(uint64(chainID), 10)
}
