package syncer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/bridge"
	"github.com/statelayer/statelayer/logging/fields"
	"github.com/statelayer/statelayer/registry"
)

var ErrUnknownRoute = errors.New("no route configured for chain")

const defaultFeeQuoteTTL = 30 * time.Second

// Route binds a destination chain to its bridge endpoint and the receiver
// contract address on that chain.
type Route struct {
	ChainID  uint32
	Bridge   bridge.Sender
	Receiver common.Address
}

// UpdateSource is the canonical store surface the sender drains.
type UpdateSource interface {
	PendingUpdates(e uint64) []registry.StateUpdate
	DrainUpdates(e uint64) ([]registry.StateUpdate, error)
	SnapshotAt(e uint64, operators []common.Address) (registry.Snapshot, error)
}

// SenderOptions configures the update sender.
type SenderOptions struct {
	GasLimit    uint64        `yaml:"GasLimit" env:"SYNC_GAS_LIMIT" env-default:"500000" env-description:"Gas limit attached to bridged sync messages"`
	FeeQuoteTTL time.Duration `yaml:"FeeQuoteTTL" env:"SYNC_FEE_QUOTE_TTL" env-default:"30s" env-description:"How long bridge fee quotes are reused before re-estimating"`
}

// Sender packages per-epoch registry deltas (or full snapshots) and pushes
// them over the bridge to every configured destination chain.
type Sender struct {
	logger  *zap.Logger
	source  UpdateSource
	routes  map[uint32]Route
	chains  []uint32
	gas     uint64
	quotes  *ttlcache.Cache[uint32, *big.Int]
	metrics *senderMetrics
}

func NewSender(logger *zap.Logger, source UpdateSource, routes []Route, opts SenderOptions) *Sender {
	ttl := opts.FeeQuoteTTL
	if ttl <= 0 {
		ttl = defaultFeeQuoteTTL
	}
	s := &Sender{
		logger:  logger,
		source:  source,
		routes:  make(map[uint32]Route, len(routes)),
		gas:     opts.GasLimit,
		quotes:  ttlcache.New(ttlcache.WithTTL[uint32, *big.Int](ttl)),
		metrics: newSenderMetrics(),
	}
	for _, route := range routes {
		s.routes[route.ChainID] = route
		s.chains = append(s.chains, route.ChainID)
	}
	go s.quotes.Start()
	return s
}

func (s *Sender) Close() {
	s.quotes.Stop()
}

// SendUpdates drains the pending updates targeting the epoch and broadcasts
// them to every route. The queue is drained only after every route accepted
// the message, so a partial failure leaves the epoch pending and a retry
// re-broadcasts it; replicas that already applied the epoch drop the
// duplicate as stale.
func (s *Sender) SendUpdates(ctx context.Context, epoch uint64) error {
	pending := s.source.PendingUpdates(epoch)
	if len(pending) == 0 {
		return nil
	}

	payload, err := encodeUpdates(pending)
	if err != nil {
		return errors.Wrap(err, "could not encode updates")
	}
	message, err := encodeEnvelope(epoch, messageUpdates, payload)
	if err != nil {
		return errors.Wrap(err, "could not encode envelope")
	}

	for _, chainID := range s.chains {
		if err := s.send(ctx, s.routes[chainID], message, "updates"); err != nil {
			return errors.Wrapf(err, "chain %d", chainID)
		}
	}

	if _, err := s.source.DrainUpdates(epoch); err != nil {
		return errors.Wrap(err, "could not drain updates")
	}
	s.logger.Info("broadcast state updates",
		fields.Epoch(epoch),
		fields.Count(len(pending)))
	return nil
}

// SendSnapshot sends a full checkpoint snapshot for the named operators to a
// single chain. It is the resynchronization path for a replica that fell
// behind or diverged.
func (s *Sender) SendSnapshot(ctx context.Context, chainID uint32, epoch uint64, operators []common.Address) error {
	route, ok := s.routes[chainID]
	if !ok {
		return errors.Wrapf(ErrUnknownRoute, "chain %d", chainID)
	}

	snapshot, err := s.source.SnapshotAt(epoch, operators)
	if err != nil {
		return errors.Wrap(err, "could not build snapshot")
	}
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return errors.Wrap(err, "could not encode snapshot")
	}
	message, err := encodeEnvelope(epoch, messageSnapshot, payload)
	if err != nil {
		return errors.Wrap(err, "could not encode envelope")
	}

	if err := s.send(ctx, route, message, "snapshot"); err != nil {
		return errors.Wrapf(err, "chain %d", chainID)
	}
	s.logger.Info("sent snapshot",
		fields.ChainID(chainID),
		fields.Epoch(epoch),
		fields.Count(len(operators)))
	return nil
}

func (s *Sender) send(ctx context.Context, route Route, message []byte, kind string) error {
	fee, err := s.quoteFee(ctx, route, message)
	if err != nil {
		s.metrics.sendFailures.WithLabelValues(chainLabel(route.ChainID), kind).Inc()
		return errors.Wrap(err, "could not quote bridge fee")
	}

	id, err := route.Bridge.Send(ctx, route.Receiver, s.gas, message, fee)
	if err != nil {
		// A rejected fee means the cached quote went stale. Drop it so
		// the retry re-estimates.
		if errors.Is(err, bridge.ErrInsufficientFee) {
			s.quotes.Delete(route.ChainID)
		}
		s.metrics.sendFailures.WithLabelValues(chainLabel(route.ChainID), kind).Inc()
		return errors.Wrap(err, "could not send message")
	}

	s.metrics.messagesSent.WithLabelValues(chainLabel(route.ChainID), kind).Inc()
	s.logger.Debug("bridged message",
		fields.ChainID(route.ChainID),
		fields.MessageID(id))
	return nil
}

// quoteFee returns a recent fee quote for the route, re-estimating when the
// cached quote expired.
func (s *Sender) quoteFee(ctx context.Context, route Route, message []byte) (*big.Int, error) {
	if item := s.quotes.Get(route.ChainID); item != nil {
		return item.Value(), nil
	}
	fee, err := route.Bridge.EstimateFee(ctx, route.Receiver, s.gas, message)
	if err != nil {
		return nil, err
	}
	s.quotes.Set(route.ChainID, fee, ttlcache.DefaultTTL)
	return fee, nil
}
