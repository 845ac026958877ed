package node

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/statelayer/statelayer/epoch"
	"github.com/statelayer/statelayer/logging"
)

type fakeBroadcaster struct {
	sent   []uint64
	failOn map[uint64]bool
}

func (f *fakeBroadcaster) SendUpdates(_ context.Context, e uint64) error {
	if f.failOn[e] {
		return errors.New("route down")
	}
	f.sent = append(f.sent, e)
	return nil
}

func newTestNode(t *testing.T, height *uint64, broadcaster *fakeBroadcaster) *Node {
	clock, err := epoch.NewClock(
		epoch.Config{GenesisHeight: 0, EpochLength: 100, GracePeriod: 10},
		epoch.HeightFn(func() uint64 { return *height }),
	)
	require.NoError(t, err)
	return New(logging.TestLogger(t), clock, broadcaster, nil, Options{})
}

func TestNode_RelayDispatchesCompletedEpochs(t *testing.T) {
	height := new(uint64)
	broadcaster := &fakeBroadcaster{failOn: map[uint64]bool{}}
	n := newTestNode(t, height, broadcaster)
	ctx := context.Background()

	// Nothing beyond epoch 0 yet.
	n.relayOnce(ctx)
	require.Equal(t, []uint64{0}, broadcaster.sent)

	// Three epochs elapse at once; the relay catches up in order.
	*height = 320
	n.relayOnce(ctx)
	require.Equal(t, []uint64{0, 1, 2, 3}, broadcaster.sent)

	// Nothing new: no re-dispatch.
	n.relayOnce(ctx)
	require.Equal(t, []uint64{0, 1, 2, 3}, broadcaster.sent)
}

func TestNode_RelayRetriesFailedEpoch(t *testing.T) {
	height := new(uint64)
	broadcaster := &fakeBroadcaster{failOn: map[uint64]bool{1: true}}
	n := newTestNode(t, height, broadcaster)
	ctx := context.Background()

	*height = 250
	n.relayOnce(ctx)
	require.Equal(t, []uint64{0}, broadcaster.sent)

	// Epoch 1 keeps failing; epoch 2 must not be dispatched ahead of it.
	n.relayOnce(ctx)
	require.Equal(t, []uint64{0}, broadcaster.sent)

	delete(broadcaster.failOn, 1)
	n.relayOnce(ctx)
	require.Equal(t, []uint64{0, 1, 2}, broadcaster.sent)
}
