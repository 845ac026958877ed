// Package inproc implements an in-process message bus satisfying the bridge
// interfaces. It is used by the local testnet profile and by pipeline tests,
// which can hold deliveries back to exercise duplicated and reordered
// delivery.
package inproc

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/bridge"
	"github.com/statelayer/statelayer/logging/fields"
)

// Delivery is one in-flight message on the bus.
type Delivery struct {
	From     common.Address
	Receiver common.Address
	Message  []byte
	ID       bridge.MessageID
}

// Bus is an in-process bridge. In auto mode messages are delivered
// synchronously on Send; in manual mode they accumulate until Deliver is
// called, in whatever order the caller chooses.
type Bus struct {
	logger *zap.Logger
	fee    *big.Int

	mu       sync.Mutex
	handlers map[common.Address]bridge.Handler
	manual   bool
	pending  []Delivery
}

type Option func(*Bus)

// WithFee sets the flat fee quoted for every message.
func WithFee(fee *big.Int) Option {
	return func(b *Bus) {
		b.fee = new(big.Int).Set(fee)
	}
}

// WithManualDelivery holds messages until Deliver is called.
func WithManualDelivery() Option {
	return func(b *Bus) {
		b.manual = true
	}
}

func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:   logger,
		fee:      new(big.Int),
		handlers: make(map[common.Address]bridge.Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register attaches a handler at the given receiver address.
func (b *Bus) Register(receiver common.Address, handler bridge.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[receiver] = handler
}

// Endpoint returns a Sender bound to the given origin address.
func (b *Bus) Endpoint(from common.Address) bridge.Sender {
	return &endpoint{bus: b, from: from}
}

// Pending returns the held-back deliveries (manual mode).
func (b *Bus) Pending() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Delivery, len(b.pending))
	copy(out, b.pending)
	b.pending = nil
	return out
}

// Deliver hands a delivery to its receiver's handler.
func (b *Bus) Deliver(ctx context.Context, d Delivery) error {
	b.mu.Lock()
	handler, ok := b.handlers[d.Receiver]
	b.mu.Unlock()
	if !ok {
		return errors.Wrapf(bridge.ErrRouteNotAllowed, "no handler at %s", d.Receiver)
	}
	return handler.HandleMessage(ctx, d.From, d.Message, d.ID)
}

type endpoint struct {
	bus  *Bus
	from common.Address
}

func (e *endpoint) EstimateFee(_ context.Context, _ common.Address, _ uint64, _ []byte) (*big.Int, error) {
	return new(big.Int).Set(e.bus.fee), nil
}

func (e *endpoint) Send(ctx context.Context, receiver common.Address, _ uint64, message []byte, fee *big.Int) (bridge.MessageID, error) {
	if fee == nil || fee.Cmp(e.bus.fee) < 0 {
		return bridge.MessageID{}, bridge.ErrInsufficientFee
	}

	id := bridge.MessageID(crypto.Keccak256Hash([]byte(uuid.NewString())))
	d := Delivery{
		From:     e.from,
		Receiver: receiver,
		Message:  append([]byte{}, message...),
		ID:       id,
	}

	e.bus.mu.Lock()
	manual := e.bus.manual
	if manual {
		e.bus.pending = append(e.bus.pending, d)
	}
	e.bus.mu.Unlock()

	e.bus.logger.Debug("bridge message sent",
		fields.Address(receiver),
		fields.MessageID(id),
		fields.Count(len(message)))

	if manual {
		return id, nil
	}
	if err := e.bus.Deliver(ctx, d); err != nil {
		return bridge.MessageID{}, err
	}
	return id, nil
}
