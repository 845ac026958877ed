package syncer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/bridge"
	"github.com/statelayer/statelayer/logging/fields"
	"github.com/statelayer/statelayer/storage/basedb"
)

var processedPrefix = []byte("syncer/processed/")

// Receiver is the inbound end of the pipeline on a remote chain. It accepts
// bridged messages from the single authorized sender, deduplicates them by
// message ID, and forwards the decoded contents to the local replica.
//
// A message ID is marked processed only after the replica applied it, so a
// failed apply stays unmarked and the bridge may redeliver it safely.
type Receiver struct {
	logger     *zap.Logger
	db         basedb.Database
	replica    *Replica
	authorized common.Address
	metrics    *receiverMetrics
}

var _ bridge.Handler = (*Receiver)(nil)

func NewReceiver(logger *zap.Logger, db basedb.Database, replica *Replica, authorizedSender common.Address) *Receiver {
	return &Receiver{
		logger:     logger,
		db:         db,
		replica:    replica,
		authorized: authorizedSender,
		metrics:    newReceiverMetrics(),
	}
}

// HandleMessage implements bridge.Handler.
func (r *Receiver) HandleMessage(ctx context.Context, from common.Address, message []byte, id bridge.MessageID) error {
	if from != r.authorized {
		r.metrics.rejected.WithLabelValues("unauthorized").Inc()
		return errors.Wrapf(bridge.ErrRouteNotAllowed, "sender %s", from)
	}

	processed, err := r.isProcessed(id)
	if err != nil {
		return errors.Wrap(err, "could not check message id")
	}
	if processed {
		// Bridges redeliver; a replayed message is dropped without error
		// so the bridge does not keep retrying it.
		r.metrics.duplicates.Inc()
		r.logger.Debug("dropped duplicate message", fields.MessageID(id))
		return nil
	}

	epoch, kind, payload, err := decodeEnvelope(message)
	if err != nil {
		r.metrics.rejected.WithLabelValues("malformed").Inc()
		return errors.Wrap(err, "could not decode envelope")
	}

	switch kind {
	case messageUpdates:
		updates, err := decodeUpdates(payload)
		if err != nil {
			r.metrics.rejected.WithLabelValues("malformed").Inc()
			return errors.Wrap(err, "could not decode updates")
		}
		if err := r.replica.ApplyUpdates(epoch, updates); err != nil {
			if errors.Is(err, ErrStaleEpoch) {
				// A re-broadcast of an epoch this replica already
				// applied. Mark it so the bridge stops redelivering.
				r.metrics.duplicates.Inc()
				return r.markProcessed(id)
			}
			r.metrics.rejected.WithLabelValues("apply").Inc()
			return errors.Wrap(err, "could not apply updates")
		}
		r.metrics.applied.WithLabelValues("updates").Add(float64(len(updates)))

	case messageSnapshot:
		snapshot, err := decodeSnapshot(epoch, payload)
		if err != nil {
			r.metrics.rejected.WithLabelValues("malformed").Inc()
			return errors.Wrap(err, "could not decode snapshot")
		}
		if err := r.replica.ApplySnapshot(snapshot); err != nil {
			if errors.Is(err, ErrStaleEpoch) {
				r.metrics.duplicates.Inc()
				return r.markProcessed(id)
			}
			r.metrics.rejected.WithLabelValues("apply").Inc()
			return errors.Wrap(err, "could not apply snapshot")
		}
		r.metrics.applied.WithLabelValues("snapshot").Inc()

	default:
		r.metrics.rejected.WithLabelValues("malformed").Inc()
		return errors.Errorf("unknown message kind %d", kind)
	}

	if err := r.markProcessed(id); err != nil {
		return errors.Wrap(err, "could not mark message processed")
	}
	r.logger.Info("processed bridged message",
		fields.MessageID(id),
		fields.Epoch(epoch))
	return nil
}

func (r *Receiver) isProcessed(id bridge.MessageID) (bool, error) {
	_, found, err := r.db.Get(processedPrefix, id[:])
	return found, err
}

func (r *Receiver) markProcessed(id bridge.MessageID) error {
	return r.db.Set(processedPrefix, id[:], []byte{1})
}
