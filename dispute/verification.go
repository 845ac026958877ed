package dispute

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/bridge"
	"github.com/statelayer/statelayer/logging/fields"
)

// StateReader reads the per-user value history on the asserting chain.
type StateReader interface {
	ValueAt(user common.Address, key *big.Int, blockNumber uint64) (*big.Int, bool, error)
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// verificationArgs is the wire format of one verified-state report.
var verificationArgs = abi.Arguments{
	{Name: "chainId", Type: mustNewType("uint32")},
	{Name: "user", Type: mustNewType("address")},
	{Name: "key", Type: mustNewType("uint256")},
	{Name: "blockNumber", Type: mustNewType("uint64")},
	{Name: "value", Type: mustNewType("uint256")},
	{Name: "exists", Type: mustNewType("bool")},
}

func encodeVerification(state VerifiedState) ([]byte, error) {
	value := state.Value
	if value == nil {
		value = new(big.Int)
	}
	return verificationArgs.Pack(state.ChainID, state.User, state.Key, state.BlockNumber, value, state.Exists)
}

func decodeVerification(message []byte) (VerifiedState, error) {
	values, err := verificationArgs.Unpack(message)
	if err != nil {
		return VerifiedState{}, errors.Wrap(err, "could not unpack verification")
	}
	return VerifiedState{
		ChainID:     values[0].(uint32),
		User:        values[1].(common.Address),
		Key:         values[2].(*big.Int),
		BlockNumber: values[3].(uint64),
		Value:       values[4].(*big.Int),
		Exists:      values[5].(bool),
	}, nil
}

// Prover lives on the asserting chain. It reads the disputed tuple from the
// local value history and reports it to the challenge's home chain.
type Prover struct {
	logger   *zap.Logger
	reader   StateReader
	bridge   bridge.Sender
	receiver common.Address
	chainID  uint32
	gasLimit uint64
}

func NewProver(logger *zap.Logger, reader StateReader, sender bridge.Sender, receiver common.Address, chainID uint32, gasLimit uint64) *Prover {
	return &Prover{
		logger:   logger,
		reader:   reader,
		bridge:   sender,
		receiver: receiver,
		chainID:  chainID,
		gasLimit: gasLimit,
	}
}

// Prove reads the tuple's value at the disputed block and bridges the answer
// home. A missing value is reported too, with exists=false.
func (p *Prover) Prove(ctx context.Context, user common.Address, key *big.Int, blockNumber uint64) error {
	value, exists, err := p.reader.ValueAt(user, key, blockNumber)
	if err != nil {
		return errors.Wrap(err, "could not read value history")
	}

	message, err := encodeVerification(VerifiedState{
		ChainID:     p.chainID,
		User:        user,
		Key:         key,
		BlockNumber: blockNumber,
		Value:       value,
		Exists:      exists,
	})
	if err != nil {
		return errors.Wrap(err, "could not encode verification")
	}

	fee, err := p.bridge.EstimateFee(ctx, p.receiver, p.gasLimit, message)
	if err != nil {
		return errors.Wrap(err, "could not quote bridge fee")
	}
	id, err := p.bridge.Send(ctx, p.receiver, p.gasLimit, message, fee)
	if err != nil {
		return errors.Wrap(err, "could not send verification")
	}

	p.logger.Info("proved disputed state",
		fields.Address(user),
		fields.BlockNumber(blockNumber),
		fields.MessageID(id))
	return nil
}

// VerificationReceiver accepts verified-state reports on the challenge's
// home chain. Each asserting chain has exactly one authorized prover
// address; reports from anyone else are rejected.
type VerificationReceiver struct {
	logger     *zap.Logger
	engine     *Engine
	authorized map[uint32]common.Address
}

var _ bridge.Handler = (*VerificationReceiver)(nil)

func NewVerificationReceiver(logger *zap.Logger, engine *Engine, authorized map[uint32]common.Address) *VerificationReceiver {
	provers := make(map[uint32]common.Address, len(authorized))
	for chainID, addr := range authorized {
		provers[chainID] = addr
	}
	return &VerificationReceiver{
		logger:     logger,
		engine:     engine,
		authorized: provers,
	}
}

// HandleMessage implements bridge.Handler.
func (r *VerificationReceiver) HandleMessage(_ context.Context, from common.Address, message []byte, id bridge.MessageID) error {
	state, err := decodeVerification(message)
	if err != nil {
		return err
	}

	prover, ok := r.authorized[state.ChainID]
	if !ok || from != prover {
		return errors.Wrapf(bridge.ErrRouteNotAllowed, "prover %s for chain %d", from, state.ChainID)
	}

	if err := r.engine.RecordVerifiedState(state); err != nil {
		return err
	}
	r.logger.Debug("verification received", fields.MessageID(id), fields.ChainID(state.ChainID))
	return nil
}
