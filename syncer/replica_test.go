package syncer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/statelayer/statelayer/logging"
	"github.com/statelayer/statelayer/registry"
)

func TestReplica_FirstApplyOnFreshState(t *testing.T) {
	// A replica that has never applied anything clones an all-empty state;
	// the clone must come back with every history allocated so the first
	// batch can run its total-weight bookkeeping.
	replica, err := NewReplica(logging.TestLogger(t), newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, replica.ApplyUpdates(1, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
	}))

	total, err := replica.TotalWeightAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(100), total.Int64())

	// Same for a snapshot as the very first apply.
	fresh, err := NewReplica(logging.TestLogger(t), newTestDB(t))
	require.NoError(t, err)
	require.NoError(t, fresh.ApplySnapshot(registry.Snapshot{
		Epoch:           1,
		Operators:       []common.Address{operatorA},
		SigningKeys:     []common.Address{keyA},
		Weights:         []*big.Int{big.NewInt(100)},
		ThresholdWeight: big.NewInt(60),
	}))
	total, err = fresh.TotalWeightAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(100), total.Int64())
}

func TestReplica_StaleEpochRejected(t *testing.T) {
	replica, err := NewReplica(logging.TestLogger(t), newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, replica.ApplyUpdates(2, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
	}))

	require.ErrorIs(t, replica.ApplyUpdates(2, nil), ErrStaleEpoch)
	require.ErrorIs(t, replica.ApplyUpdates(1, nil), ErrStaleEpoch)
	require.ErrorIs(t, replica.ApplySnapshot(registry.Snapshot{Epoch: 2}), ErrStaleEpoch)

	require.NoError(t, replica.ApplyUpdates(3, []registry.StateUpdate{
		registry.ThresholdUpdate{Threshold: big.NewInt(50)},
	}))
}

func TestReplica_AtomicBatch(t *testing.T) {
	replica, err := NewReplica(logging.TestLogger(t), newTestDB(t))
	require.NoError(t, err)

	// The second update names an unknown operator, so the whole batch must
	// be discarded, including the valid registration before it.
	err = replica.ApplyUpdates(1, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
		registry.DeregisterUpdate{Operator: operatorB},
	})
	require.ErrorIs(t, err, ErrUnknownOperator)

	_, ok := replica.LastAppliedEpoch()
	require.False(t, ok)
	_, err = replica.WeightAt(operatorA, 1)
	require.ErrorIs(t, err, registry.ErrFutureEpoch)

	// The same epoch is still acceptable after the failed batch.
	require.NoError(t, replica.ApplyUpdates(1, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
	}))
	w, err := replica.WeightAt(operatorA, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), w.Int64())
}

func TestReplica_UnsyncedReadsRejected(t *testing.T) {
	replica, err := NewReplica(logging.TestLogger(t), newTestDB(t))
	require.NoError(t, err)

	_, err = replica.WeightAt(operatorA, 0)
	require.ErrorIs(t, err, registry.ErrFutureEpoch)

	require.NoError(t, replica.ApplyUpdates(3, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
	}))

	_, err = replica.WeightAt(operatorA, 4)
	require.ErrorIs(t, err, registry.ErrFutureEpoch)

	// Epochs at or below the synchronized one answer, with zero defaults
	// for operators without checkpoints.
	w, err := replica.WeightAt(operatorB, 2)
	require.NoError(t, err)
	require.Zero(t, w.Sign())
	key, err := replica.SigningKeyAt(operatorB, 3)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, key)
}

func TestReplica_PersistenceReload(t *testing.T) {
	logger := logging.TestLogger(t)
	db := newTestDB(t)

	replica, err := NewReplica(logger, db)
	require.NoError(t, err)
	require.NoError(t, replica.ApplyUpdates(1, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
		registry.ThresholdUpdate{Threshold: big.NewInt(60)},
	}))
	require.NoError(t, replica.ApplyUpdates(4, []registry.StateUpdate{
		registry.SigningKeyUpdate{Operator: operatorA, SigningKey: keyB},
	}))

	reloaded, err := NewReplica(logger, db)
	require.NoError(t, err)

	last, ok := reloaded.LastAppliedEpoch()
	require.True(t, ok)
	require.Equal(t, uint64(4), last)

	w, err := reloaded.WeightAt(operatorA, 2)
	require.NoError(t, err)
	require.Equal(t, int64(100), w.Int64())
	key, err := reloaded.SigningKeyAt(operatorA, 4)
	require.NoError(t, err)
	require.Equal(t, keyB, key)
	threshold, err := reloaded.ThresholdAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(60), threshold.Int64())

	require.ErrorIs(t, reloaded.ApplyUpdates(4, nil), ErrStaleEpoch)
}

func TestReplica_QuorumAndWeightRefresh(t *testing.T) {
	replica, err := NewReplica(logging.TestLogger(t), newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, replica.ApplyUpdates(1, []registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(100)},
		registry.RegisterUpdate{Operator: operatorB, SigningKey: keyB, Weight: big.NewInt(200)},
	}))

	quorum := registry.Quorum{Strategies: []registry.StrategyParams{
		{Strategy: strategyA, Multiplier: 10_000},
	}}
	require.NoError(t, replica.ApplyUpdates(2, []registry.StateUpdate{
		registry.QuorumUpdate{
			Quorum:    quorum,
			Operators: []common.Address{operatorA, operatorB},
			Weights:   []*big.Int{big.NewInt(150), big.NewInt(250)},
		},
		registry.MinWeightUpdate{MinWeight: big.NewInt(10)},
	}))

	w, err := replica.WeightAt(operatorA, 2)
	require.NoError(t, err)
	require.Equal(t, int64(150), w.Int64())
	total, err := replica.TotalWeightAt(2)
	require.NoError(t, err)
	require.Equal(t, int64(400), total.Int64())

	// Epoch 1 totals are untouched by the refresh.
	total1, err := replica.TotalWeightAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(300), total1.Int64())
}
