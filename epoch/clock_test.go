package epoch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		GenesisHeight: 0,
		EpochLength:   45_000,
		GracePeriod:   6_400,
	}
}

func TestClock_CurrentEpoch(t *testing.T) {
	var height uint64
	clock, err := NewClock(testConfig(), HeightFn(func() uint64 { return height }))
	require.NoError(t, err)

	for _, tc := range []struct {
		height uint64
		epoch  uint64
	}{
		{0, 0},
		{44_999, 0},
		{45_000, 1},
		{90_000, 2},
		{92_345, 2},
	} {
		height = tc.height
		require.Equal(t, tc.epoch, clock.CurrentEpoch(), "height %d", tc.height)
	}
}

func TestClock_GracePeriodBoundary(t *testing.T) {
	var height uint64
	clock, err := NewClock(testConfig(), HeightFn(func() uint64 { return height }))
	require.NoError(t, err)

	// Epoch 0 spans [0, 44999]; the grace window starts at 45000-6400 = 38600.
	height = 38_599
	require.False(t, clock.IsInGracePeriod())
	require.Equal(t, uint64(1), clock.EffectiveEpoch())

	height = 38_600
	require.True(t, clock.IsInGracePeriod())
	require.Equal(t, uint64(2), clock.EffectiveEpoch())

	height = 44_999
	require.True(t, clock.IsInGracePeriod())
	require.Equal(t, uint64(2), clock.EffectiveEpoch())

	// First block of epoch 1 is outside the grace window again.
	height = 45_000
	require.False(t, clock.IsInGracePeriod())
	require.Equal(t, uint64(2), clock.EffectiveEpoch())
}

func TestClock_EpochInterval(t *testing.T) {
	clock, err := NewClock(Config{GenesisHeight: 100, EpochLength: 1000, GracePeriod: 50}, HeightFn(func() uint64 { return 0 }))
	require.NoError(t, err)

	start, end := clock.EpochInterval(0)
	require.Equal(t, uint64(100), start)
	require.Equal(t, uint64(1099), end)

	start, end = clock.EpochInterval(3)
	require.Equal(t, uint64(3100), start)
	require.Equal(t, uint64(4099), end)
}

func TestClock_RejectsInvalidGracePeriod(t *testing.T) {
	_, err := NewClock(Config{EpochLength: 100, GracePeriod: 100}, HeightFn(func() uint64 { return 0 }))
	require.ErrorIs(t, err, ErrInvalidGracePeriod)

	_, err = NewClock(Config{EpochLength: 0, GracePeriod: 0}, HeightFn(func() uint64 { return 0 }))
	require.ErrorIs(t, err, ErrInvalidGracePeriod)
}

func TestClock_AdvanceAndRevert(t *testing.T) {
	clock, err := NewClock(testConfig(), HeightFn(func() uint64 { return 0 }))
	require.NoError(t, err)

	_, ok := clock.SyncedEpoch()
	require.False(t, ok)

	require.Equal(t, uint64(0), clock.Advance())
	require.Equal(t, uint64(1), clock.Advance())
	require.Equal(t, uint64(2), clock.Advance())

	t.Run("revert non-current epoch fails", func(t *testing.T) {
		require.ErrorIs(t, clock.Revert(1), ErrEpochNotCurrent)
	})

	t.Run("revert current epoch", func(t *testing.T) {
		require.NoError(t, clock.Revert(2))
		e, ok := clock.SyncedEpoch()
		require.True(t, ok)
		require.Equal(t, uint64(1), e)
	})

	t.Run("revert to genesis", func(t *testing.T) {
		require.NoError(t, clock.Revert(1))
		require.NoError(t, clock.Revert(0))
		_, ok := clock.SyncedEpoch()
		require.False(t, ok)
		require.ErrorIs(t, clock.Revert(0), ErrNoSyncedEpoch)
	})
}
