package syncer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/statelayer/statelayer/bridge"
	"github.com/statelayer/statelayer/bridge/inproc"
	"github.com/statelayer/statelayer/epoch"
	"github.com/statelayer/statelayer/logging"
	"github.com/statelayer/statelayer/registry"
	"github.com/statelayer/statelayer/storage/basedb"
	"github.com/statelayer/statelayer/storage/kv"
)

var (
	strategyA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	strategyB = common.HexToAddress("0x1000000000000000000000000000000000000002")

	operatorA = common.HexToAddress("0xaa00000000000000000000000000000000000001")
	operatorB = common.HexToAddress("0xaa00000000000000000000000000000000000002")

	keyA = common.HexToAddress("0xbb00000000000000000000000000000000000001")
	keyB = common.HexToAddress("0xbb00000000000000000000000000000000000002")

	senderAddr    = common.HexToAddress("0xcc00000000000000000000000000000000000001")
	receiverAddr1 = common.HexToAddress("0xcc00000000000000000000000000000000000002")
	receiverAddr2 = common.HexToAddress("0xcc00000000000000000000000000000000000003")
)

type fakeDelegation struct {
	shares map[common.Address][]*big.Int
}

func (f *fakeDelegation) OperatorShares(_ context.Context, operator common.Address, strategies []common.Address) ([]*big.Int, error) {
	if shares, ok := f.shares[operator]; ok {
		return shares, nil
	}
	return make([]*big.Int, len(strategies)), nil
}

type fakeAllocation struct{}

func (fakeAllocation) Allocation(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (fakeAllocation) MaxMagnitude(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (fakeAllocation) IsOperatorSetMember(_ context.Context, _ common.Address) (bool, error) {
	return false, nil
}

type fakeDirectory struct{}

func (fakeDirectory) IsOperatorRegistered(_ context.Context, _ common.Address) (bool, error) {
	return true, nil
}

func newTestDB(t *testing.T) basedb.Database {
	db, err := kv.NewInMemory(logging.TestLogger(t), basedb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type pipelineEnv struct {
	sender     *Sender
	canonical  *registry.Store
	replicas   []*Replica
	bus        *inproc.Bus
	height     *uint64
	delegation *fakeDelegation
}

// newPipelineEnv wires a canonical store to replica registries on two
// destination chains through the in-process bus.
func newPipelineEnv(t *testing.T, busOpts ...inproc.Option) *pipelineEnv {
	logger := logging.TestLogger(t)

	height := new(uint64)
	clock, err := epoch.NewClock(
		epoch.Config{GenesisHeight: 0, EpochLength: 100, GracePeriod: 10},
		epoch.HeightFn(func() uint64 { return *height }),
	)
	require.NoError(t, err)

	quorum := registry.Quorum{Strategies: []registry.StrategyParams{
		{Strategy: strategyA, Multiplier: 6_000},
		{Strategy: strategyB, Multiplier: 4_000},
	}}
	delegation := &fakeDelegation{shares: map[common.Address][]*big.Int{}}
	canonical, err := registry.NewStore(logger, newTestDB(t), clock, delegation, fakeAllocation{}, fakeDirectory{}, quorum)
	require.NoError(t, err)

	bus := inproc.NewBus(logger, busOpts...)

	var replicas []*Replica
	for _, receiver := range []common.Address{receiverAddr1, receiverAddr2} {
		replica, err := NewReplica(logger, newTestDB(t))
		require.NoError(t, err)
		bus.Register(receiver, NewReceiver(logger, newTestDB(t), replica, senderAddr))
		replicas = append(replicas, replica)
	}

	endpoint := bus.Endpoint(senderAddr)
	sender := NewSender(logger, canonical, []Route{
		{ChainID: 10, Bridge: endpoint, Receiver: receiverAddr1},
		{ChainID: 20, Bridge: endpoint, Receiver: receiverAddr2},
	}, SenderOptions{GasLimit: 500_000})
	t.Cleanup(sender.Close)

	return &pipelineEnv{
		sender:     sender,
		canonical:  canonical,
		replicas:   replicas,
		bus:        bus,
		height:     height,
		delegation: delegation,
	}
}

func TestPipeline_ReplicasMatchCanonical(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	// 1000*6000/10000 + 500*4000/10000 = 800 for A, half of that for B.
	env.delegation.shares[operatorA] = []*big.Int{big.NewInt(1000), big.NewInt(500)}
	env.delegation.shares[operatorB] = []*big.Int{big.NewInt(500), big.NewInt(250)}

	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorA, keyA))
	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorB, keyB))
	require.NoError(t, env.canonical.SetThreshold(big.NewInt(900)))

	require.NoError(t, env.sender.SendUpdates(ctx, 1))
	require.Empty(t, env.canonical.PendingUpdates(1))

	*env.height = 100 // epoch 1 becomes current

	for _, replica := range env.replicas {
		last, ok := replica.LastAppliedEpoch()
		require.True(t, ok)
		require.Equal(t, uint64(1), last)

		for _, operator := range []common.Address{operatorA, operatorB} {
			want, err := env.canonical.WeightAt(operator, 1)
			require.NoError(t, err)
			got, err := replica.WeightAt(operator, 1)
			require.NoError(t, err)
			require.Zero(t, want.Cmp(got))

			wantKey, err := env.canonical.SigningKeyAt(operator, 1)
			require.NoError(t, err)
			gotKey, err := replica.SigningKeyAt(operator, 1)
			require.NoError(t, err)
			require.Equal(t, wantKey, gotKey)
		}

		wantThreshold, err := env.canonical.ThresholdAt(1)
		require.NoError(t, err)
		gotThreshold, err := replica.ThresholdAt(1)
		require.NoError(t, err)
		require.Zero(t, wantThreshold.Cmp(gotThreshold))

		wantTotal, err := env.canonical.TotalWeightAt(1)
		require.NoError(t, err)
		gotTotal, err := replica.TotalWeightAt(1)
		require.NoError(t, err)
		require.Zero(t, wantTotal.Cmp(gotTotal))
	}
}

func TestPipeline_DeregisterAndKeyRotation(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	env.delegation.shares[operatorA] = []*big.Int{big.NewInt(1000), big.NewInt(500)}
	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorA, keyA))
	require.NoError(t, env.sender.SendUpdates(ctx, 1))

	*env.height = 100
	require.NoError(t, env.canonical.UpdateSigningKey(operatorA, keyB))
	require.NoError(t, env.canonical.DeregisterOperator(operatorA))
	require.NoError(t, env.sender.SendUpdates(ctx, 2))

	*env.height = 200
	replica := env.replicas[0]

	// Epoch 1 state is preserved, epoch 2 reflects the deregistration.
	w1, err := replica.WeightAt(operatorA, 1)
	require.NoError(t, err)
	require.Equal(t, int64(800), w1.Int64())
	k1, err := replica.SigningKeyAt(operatorA, 1)
	require.NoError(t, err)
	require.Equal(t, keyA, k1)

	w2, err := replica.WeightAt(operatorA, 2)
	require.NoError(t, err)
	require.Zero(t, w2.Sign())
	k2, err := replica.SigningKeyAt(operatorA, 2)
	require.NoError(t, err)
	require.Equal(t, keyB, k2)

	total, err := replica.TotalWeightAt(2)
	require.NoError(t, err)
	require.Zero(t, total.Sign())
}

func TestPipeline_DuplicateDelivery(t *testing.T) {
	env := newPipelineEnv(t, inproc.WithManualDelivery())
	ctx := context.Background()

	env.delegation.shares[operatorA] = []*big.Int{big.NewInt(1000), big.NewInt(500)}
	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorA, keyA))
	require.NoError(t, env.sender.SendUpdates(ctx, 1))

	deliveries := env.bus.Pending()
	require.Len(t, deliveries, 2)

	// Deliver the first chain's message twice. The replay is dropped
	// without error and the replica state is unchanged.
	require.NoError(t, env.bus.Deliver(ctx, deliveries[0]))
	require.NoError(t, env.bus.Deliver(ctx, deliveries[0]))

	last, ok := env.replicas[0].LastAppliedEpoch()
	require.True(t, ok)
	require.Equal(t, uint64(1), last)

	w, err := env.replicas[0].WeightAt(operatorA, 1)
	require.NoError(t, err)
	require.Equal(t, int64(800), w.Int64())
}

func TestPipeline_RebroadcastDroppedAsStale(t *testing.T) {
	env := newPipelineEnv(t, inproc.WithManualDelivery())
	ctx := context.Background()

	env.delegation.shares[operatorA] = []*big.Int{big.NewInt(1000), big.NewInt(500)}
	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorA, keyA))
	require.NoError(t, env.sender.SendUpdates(ctx, 1))
	first := env.bus.Pending()
	require.Len(t, first, 2)
	require.NoError(t, env.bus.Deliver(ctx, first[0]))

	// A second broadcast of the same epoch carries fresh message IDs, so
	// dedup does not catch it; the replica's epoch guard does.
	payload, err := encodeUpdates([]registry.StateUpdate{
		registry.RegisterUpdate{Operator: operatorA, SigningKey: keyA, Weight: big.NewInt(800)},
	})
	require.NoError(t, err)
	message, err := encodeEnvelope(1, messageUpdates, payload)
	require.NoError(t, err)
	endpoint := env.bus.Endpoint(senderAddr)
	_, err = endpoint.Send(ctx, receiverAddr1, 500_000, message, new(big.Int))
	require.NoError(t, err)

	resend := env.bus.Pending()
	require.Len(t, resend, 1)
	require.Equal(t, receiverAddr1, resend[0].Receiver)
	require.NoError(t, env.bus.Deliver(ctx, resend[0]))

	last, ok := env.replicas[0].LastAppliedEpoch()
	require.True(t, ok)
	require.Equal(t, uint64(1), last)
}

func TestPipeline_SnapshotResync(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	env.delegation.shares[operatorA] = []*big.Int{big.NewInt(1000), big.NewInt(500)}
	env.delegation.shares[operatorB] = []*big.Int{big.NewInt(500), big.NewInt(250)}
	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorA, keyA))
	require.NoError(t, env.canonical.RegisterOperator(ctx, operatorB, keyB))
	require.NoError(t, env.canonical.SetThreshold(big.NewInt(900)))

	// Skip the delta path entirely and resync chain 10 from a snapshot.
	_, err := env.canonical.DrainUpdates(1)
	require.NoError(t, err)
	*env.height = 100

	require.NoError(t, env.sender.SendSnapshot(ctx, 10, 1, []common.Address{operatorA, operatorB}))

	replica := env.replicas[0]
	w, err := replica.WeightAt(operatorA, 1)
	require.NoError(t, err)
	require.Equal(t, int64(800), w.Int64())
	total, err := replica.TotalWeightAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(1200), total.Int64())
	threshold, err := replica.ThresholdAt(1)
	require.NoError(t, err)
	require.Equal(t, int64(900), threshold.Int64())

	require.ErrorIs(t, env.sender.SendSnapshot(ctx, 99, 1, nil), ErrUnknownRoute)
}

func TestPipeline_PartialFailureKeepsQueue(t *testing.T) {
	logger := logging.TestLogger(t)
	ctx := context.Background()

	height := new(uint64)
	clock, err := epoch.NewClock(
		epoch.Config{GenesisHeight: 0, EpochLength: 100, GracePeriod: 10},
		epoch.HeightFn(func() uint64 { return *height }),
	)
	require.NoError(t, err)

	quorum := registry.Quorum{Strategies: []registry.StrategyParams{
		{Strategy: strategyA, Multiplier: 6_000},
		{Strategy: strategyB, Multiplier: 4_000},
	}}
	delegation := &fakeDelegation{shares: map[common.Address][]*big.Int{
		operatorA: {big.NewInt(1000), big.NewInt(500)},
	}}
	canonical, err := registry.NewStore(logger, newTestDB(t), clock, delegation, fakeAllocation{}, fakeDirectory{}, quorum)
	require.NoError(t, err)

	bus := inproc.NewBus(logger)
	replica, err := NewReplica(logger, newTestDB(t))
	require.NoError(t, err)
	bus.Register(receiverAddr1, NewReceiver(logger, newTestDB(t), replica, senderAddr))

	// The second route has no handler registered, so its delivery fails.
	endpoint := bus.Endpoint(senderAddr)
	sender := NewSender(logger, canonical, []Route{
		{ChainID: 10, Bridge: endpoint, Receiver: receiverAddr1},
		{ChainID: 30, Bridge: endpoint, Receiver: receiverAddr2},
	}, SenderOptions{GasLimit: 500_000})
	t.Cleanup(sender.Close)

	require.NoError(t, canonical.RegisterOperator(ctx, operatorA, keyA))
	require.Error(t, sender.SendUpdates(ctx, 1))
	require.Len(t, canonical.PendingUpdates(1), 1)

	// Once the route comes up, the retry re-broadcasts the epoch. The
	// replica that already applied it absorbs the duplicate and the queue
	// finally drains.
	lagging, err := NewReplica(logger, newTestDB(t))
	require.NoError(t, err)
	bus.Register(receiverAddr2, NewReceiver(logger, newTestDB(t), lagging, senderAddr))

	require.NoError(t, sender.SendUpdates(ctx, 1))
	require.Empty(t, canonical.PendingUpdates(1))

	last, ok := lagging.LastAppliedEpoch()
	require.True(t, ok)
	require.Equal(t, uint64(1), last)
}

func TestReceiver_RejectsUnauthorizedSender(t *testing.T) {
	logger := logging.TestLogger(t)
	replica, err := NewReplica(logger, newTestDB(t))
	require.NoError(t, err)
	receiver := NewReceiver(logger, newTestDB(t), replica, senderAddr)

	err = receiver.HandleMessage(context.Background(), operatorA, []byte{1, 2, 3}, bridge.MessageID{1})
	require.ErrorIs(t, err, bridge.ErrRouteNotAllowed)

	err = receiver.HandleMessage(context.Background(), senderAddr, []byte{1, 2, 3}, bridge.MessageID{1})
	require.Error(t, err) // malformed envelope
}
