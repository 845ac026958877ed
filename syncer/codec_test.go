package syncer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/statelayer/statelayer/registry"
)

func TestCodec_UpdateBatchRoundTrip(t *testing.T) {
	quorum := registry.Quorum{Strategies: []registry.StrategyParams{
		{Strategy: strategyA, Multiplier: 6_000},
		{Strategy: strategyB, Multiplier: 4_000},
	}}
	updates := []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(800)},
		registry.DeregisterUpdate{Operator: operatorB},
		registry.SigningKeyUpdate{Operator: operatorA, SigningKey: keyB},
		registry.OperatorsUpdate{
			Operators: []common.Address{operatorA, operatorB},
			Weights:   []*big.Int{big.NewInt(100), big.NewInt(200)},
		},
		registry.QuorumUpdate{
			Quorum:    quorum,
			Operators: []common.Address{operatorA},
			Weights:   []*big.Int{big.NewInt(300)},
		},
		registry.MinWeightUpdate{MinWeight: big.NewInt(25)},
		registry.ThresholdUpdate{Threshold: big.NewInt(600)},
		registry.OperatorsForQuorumUpdate{
			Operators: []common.Address{operatorB},
			Weights:   []*big.Int{big.NewInt(400)},
		},
	}

	payload, err := encodeUpdates(updates)
	require.NoError(t, err)
	message, err := encodeEnvelope(7, messageUpdates, payload)
	require.NoError(t, err)

	epoch, kind, decodedPayload, err := decodeEnvelope(message)
	require.NoError(t, err)
	require.Equal(t, uint64(7), epoch)
	require.Equal(t, messageUpdates, kind)

	decoded, err := decodeUpdates(decodedPayload)
	require.NoError(t, err)
	require.Equal(t, updates, decoded)
}

func TestCodec_SnapshotRoundTrip(t *testing.T) {
	snapshot := registry.Snapshot{
		Epoch:           9,
		Operators:       []common.Address{operatorA, operatorB},
		SigningKeys:     []common.Address{keyA, keyB},
		Weights:         []*big.Int{big.NewInt(800), big.NewInt(400)},
		ThresholdWeight: big.NewInt(900),
	}

	payload, err := encodeSnapshot(snapshot)
	require.NoError(t, err)
	message, err := encodeEnvelope(snapshot.Epoch, messageSnapshot, payload)
	require.NoError(t, err)

	epoch, kind, decodedPayload, err := decodeEnvelope(message)
	require.NoError(t, err)
	require.Equal(t, messageSnapshot, kind)

	decoded, err := decodeSnapshot(epoch, decodedPayload)
	require.NoError(t, err)
	require.Equal(t, snapshot, decoded)
}

func TestCodec_MalformedInputs(t *testing.T) {
	_, _, _, err := decodeEnvelope([]byte{0xde, 0xad})
	require.Error(t, err)

	_, err = decodeUpdates([]byte{0xbe, 0xef})
	require.Error(t, err)

	_, err = decodeUpdatePayload(registry.UpdateKind(42), nil)
	require.Error(t, err)
}
