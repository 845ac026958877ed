// Package syncer implements the cross-chain replication pipeline: a sender
// that packages per-epoch registry deltas or full snapshots, a receiver that
// deduplicates and applies bridged messages, and the light replica registry.
package syncer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/statelayer/statelayer/registry"
)

// messageKind tags the envelope payload.
type messageKind uint8

const (
	messageUpdates messageKind = iota
	messageSnapshot
)

func mustNewType(t string, components ...abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

// envelopeArgs is the outer wire format: {epoch, kind, payload}.
var envelopeArgs = abi.Arguments{
	{Name: "epoch", Type: mustNewType("uint64")},
	{Name: "kind", Type: mustNewType("uint8")},
	{Name: "payload", Type: mustNewType("bytes")},
}

// updateArgs is the per-update wire format: {updateType, payload}.
var updateArgs = abi.Arguments{
	{Name: "updateType", Type: mustNewType("uint8")},
	{Name: "payload", Type: mustNewType("bytes")},
}

var (
	registerArgs = abi.Arguments{
		{Name: "operator", Type: mustNewType("address")},
		{Name: "signingKey", Type: mustNewType("address")},
		{Name: "weight", Type: mustNewType("uint256")},
	}
	deregisterArgs = abi.Arguments{
		{Name: "operator", Type: mustNewType("address")},
	}
	signingKeyArgs = abi.Arguments{
		{Name: "operator", Type: mustNewType("address")},
		{Name: "signingKey", Type: mustNewType("address")},
	}
	operatorsArgs = abi.Arguments{
		{Name: "operators", Type: mustNewType("address[]")},
		{Name: "weights", Type: mustNewType("uint256[]")},
	}
	quorumArgs = abi.Arguments{
		{Name: "strategies", Type: mustNewType("address[]")},
		{Name: "multipliers", Type: mustNewType("uint256[]")},
		{Name: "operators", Type: mustNewType("address[]")},
		{Name: "weights", Type: mustNewType("uint256[]")},
	}
	weightArgs = abi.Arguments{
		{Name: "weight", Type: mustNewType("uint256")},
	}
	snapshotArgs = abi.Arguments{
		{Name: "operators", Type: mustNewType("address[]")},
		{Name: "signingKeys", Type: mustNewType("address[]")},
		{Name: "weights", Type: mustNewType("uint256[]")},
		{Name: "thresholdWeight", Type: mustNewType("uint256")},
	}
)

func encodeEnvelope(epoch uint64, kind messageKind, payload []byte) ([]byte, error) {
	return envelopeArgs.Pack(epoch, uint8(kind), payload)
}

func decodeEnvelope(message []byte) (epoch uint64, kind messageKind, payload []byte, err error) {
	values, err := envelopeArgs.Unpack(message)
	if err != nil {
		return 0, 0, nil, errors.Wrap(err, "could not unpack message envelope")
	}
	return values[0].(uint64), messageKind(values[1].(uint8)), values[2].([]byte), nil
}

// encodeUpdates packs a batch of state updates. Each update becomes a
// {updateType, payload} record and the batch is packed as bytes[].
func encodeUpdates(updates []registry.StateUpdate) ([]byte, error) {
	encoded := make([][]byte, len(updates))
	for i, update := range updates {
		payload, err := encodeUpdatePayload(update)
		if err != nil {
			return nil, err
		}
		record, err := updateArgs.Pack(uint8(update.Kind()), payload)
		if err != nil {
			return nil, errors.Wrapf(err, "could not pack %s update", update.Kind())
		}
		encoded[i] = record
	}
	return batchArgs.Pack(encoded)
}

var batchArgs = abi.Arguments{
	{Name: "records", Type: mustNewType("bytes[]")},
}

func decodeUpdates(payload []byte) ([]registry.StateUpdate, error) {
	values, err := batchArgs.Unpack(payload)
	if err != nil {
		return nil, errors.Wrap(err, "could not unpack update batch")
	}
	records := values[0].([][]byte)

	updates := make([]registry.StateUpdate, len(records))
	for i, record := range records {
		values, err := updateArgs.Unpack(record)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack update record")
		}
		update, err := decodeUpdatePayload(registry.UpdateKind(values[0].(uint8)), values[1].([]byte))
		if err != nil {
			return nil, err
		}
		updates[i] = update
	}
	return updates, nil
}

func encodeUpdatePayload(update registry.StateUpdate) ([]byte, error) {
	switch u := update.(type) {
	case registry.RegisterUpdate:
		return registerArgs.Pack(u.Operator, u.SigningKey, u.Weight)
	case registry.DeregisterUpdate:
		return deregisterArgs.Pack(u.Operator)
	case registry.SigningKeyUpdate:
		return signingKeyArgs.Pack(u.Operator, u.SigningKey)
	case registry.OperatorsUpdate:
		return operatorsArgs.Pack(u.Operators, u.Weights)
	case registry.QuorumUpdate:
		strategies := u.Quorum.StrategyAddresses()
		multipliers := make([]*big.Int, len(u.Quorum.Strategies))
		for i, s := range u.Quorum.Strategies {
			multipliers[i] = new(big.Int).SetUint64(s.Multiplier)
		}
		return quorumArgs.Pack(strategies, multipliers, u.Operators, u.Weights)
	case registry.MinWeightUpdate:
		return weightArgs.Pack(u.MinWeight)
	case registry.ThresholdUpdate:
		return weightArgs.Pack(u.Threshold)
	case registry.OperatorsForQuorumUpdate:
		return operatorsArgs.Pack(u.Operators, u.Weights)
	}
	return nil, errors.Errorf("unencodable update kind %s", update.Kind())
}

func decodeUpdatePayload(kind registry.UpdateKind, payload []byte) (registry.StateUpdate, error) {
	switch kind {
	case registry.KindRegister:
		values, err := registerArgs.Unpack(payload)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack Register payload")
		}
		return registry.RegisterUpdate{
			Operator:   values[0].(common.Address),
			SigningKey: values[1].(common.Address),
			Weight:     values[2].(*big.Int),
		}, nil

	case registry.KindDeregister:
		values, err := deregisterArgs.Unpack(payload)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack Deregister payload")
		}
		return registry.DeregisterUpdate{Operator: values[0].(common.Address)}, nil

	case registry.KindUpdateSigningKey:
		values, err := signingKeyArgs.Unpack(payload)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack UpdateSigningKey payload")
		}
		return registry.SigningKeyUpdate{
			Operator:   values[0].(common.Address),
			SigningKey: values[1].(common.Address),
		}, nil

	case registry.KindUpdateOperators:
		operators, weights, err := unpackOperatorWeights(payload)
		if err != nil {
			return nil, err
		}
		return registry.OperatorsUpdate{Operators: operators, Weights: weights}, nil

	case registry.KindUpdateQuorum:
		values, err := quorumArgs.Unpack(payload)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack UpdateQuorum payload")
		}
		strategies := values[0].([]common.Address)
		multipliers := values[1].([]*big.Int)
		if len(strategies) != len(multipliers) {
			return nil, errors.New("strategies and multipliers length mismatch")
		}
		quorum := registry.Quorum{Strategies: make([]registry.StrategyParams, len(strategies))}
		for i := range strategies {
			quorum.Strategies[i] = registry.StrategyParams{
				Strategy:   strategies[i],
				Multiplier: multipliers[i].Uint64(),
			}
		}
		return registry.QuorumUpdate{
			Quorum:    quorum,
			Operators: values[2].([]common.Address),
			Weights:   values[3].([]*big.Int),
		}, nil

	case registry.KindUpdateMinWeight:
		values, err := weightArgs.Unpack(payload)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack UpdateMinWeight payload")
		}
		return registry.MinWeightUpdate{MinWeight: values[0].(*big.Int)}, nil

	case registry.KindUpdateThreshold:
		values, err := weightArgs.Unpack(payload)
		if err != nil {
			return nil, errors.Wrap(err, "could not unpack UpdateThreshold payload")
		}
		return registry.ThresholdUpdate{Threshold: values[0].(*big.Int)}, nil

	case registry.KindUpdateOperatorsForQuorum:
		operators, weights, err := unpackOperatorWeights(payload)
		if err != nil {
			return nil, err
		}
		return registry.OperatorsForQuorumUpdate{Operators: operators, Weights: weights}, nil
	}
	return nil, errors.Errorf("unknown update type %d", kind)
}

func unpackOperatorWeights(payload []byte) ([]common.Address, []*big.Int, error) {
	values, err := operatorsArgs.Unpack(payload)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not unpack operator weights payload")
	}
	operators := values[0].([]common.Address)
	weights := values[1].([]*big.Int)
	if len(operators) != len(weights) {
		return nil, nil, errors.New("operators and weights length mismatch")
	}
	return operators, weights, nil
}

func encodeSnapshot(s registry.Snapshot) ([]byte, error) {
	return snapshotArgs.Pack(s.Operators, s.SigningKeys, s.Weights, s.ThresholdWeight)
}

func decodeSnapshot(epoch uint64, payload []byte) (registry.Snapshot, error) {
	values, err := snapshotArgs.Unpack(payload)
	if err != nil {
		return registry.Snapshot{}, errors.Wrap(err, "could not unpack snapshot")
	}
	s := registry.Snapshot{
		Epoch:           epoch,
		Operators:       values[0].([]common.Address),
		SigningKeys:     values[1].([]common.Address),
		Weights:         values[2].([]*big.Int),
		ThresholdWeight: values[3].(*big.Int),
	}
	if len(s.Operators) != len(s.SigningKeys) || len(s.Operators) != len(s.Weights) {
		return registry.Snapshot{}, errors.New("snapshot arrays length mismatch")
	}
	return s, nil
}
