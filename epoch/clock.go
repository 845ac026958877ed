// Package epoch derives a monotonically increasing epoch number from chain
// height and computes the effective epoch for new writes, deferring writes
// made inside the grace window by one extra epoch.
package epoch

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrInvalidGracePeriod = errors.New("grace period must be strictly less than epoch length")
	ErrEpochNotCurrent    = errors.New("only the current epoch can be reverted")
	ErrNoSyncedEpoch      = errors.New("no epoch has been advanced yet")
)

// HeightProvider reports the current chain height.
type HeightProvider interface {
	Height() uint64
}

// HeightFn adapts a plain function to a HeightProvider.
type HeightFn func() uint64

func (f HeightFn) Height() uint64 {
	return f()
}

// Config holds the epoch derivation parameters of a network.
type Config struct {
	GenesisHeight uint64 `yaml:"GenesisHeight" env:"EPOCH_GENESIS_HEIGHT" env-description:"Chain height at which epoch 0 starts"`
	EpochLength   uint64 `yaml:"EpochLength" env:"EPOCH_LENGTH" env-default:"45000" env-description:"Epoch length in blocks"`
	GracePeriod   uint64 `yaml:"GracePeriod" env:"EPOCH_GRACE_PERIOD" env-default:"6400" env-description:"Grace window in blocks before each epoch boundary"`
}

// Clock computes epochs from the chain height reported by an injected
// HeightProvider. It also tracks the last epoch dispatched to remote chains,
// which may only move forward, or backward one step via Revert.
type Clock struct {
	cfg     Config
	heights HeightProvider

	mu          sync.Mutex
	syncedEpoch uint64
	hasSynced   bool
}

func NewClock(cfg Config, heights HeightProvider) (*Clock, error) {
	if cfg.EpochLength == 0 || cfg.GracePeriod >= cfg.EpochLength {
		return nil, ErrInvalidGracePeriod
	}
	return &Clock{
		cfg:     cfg,
		heights: heights,
	}, nil
}

// CurrentEpoch returns the epoch the chain is currently in.
func (c *Clock) CurrentEpoch() uint64 {
	height := c.heights.Height()
	if height < c.cfg.GenesisHeight {
		return 0
	}
	return (height - c.cfg.GenesisHeight) / c.cfg.EpochLength
}

// IsInGracePeriod reports whether the chain height is within the grace
// window preceding the next epoch boundary.
func (c *Clock) IsInGracePeriod() bool {
	height := c.heights.Height()
	if height < c.cfg.GenesisHeight {
		height = c.cfg.GenesisHeight
	}
	_, end := c.EpochInterval(c.CurrentEpoch())
	return height >= end+1-c.cfg.GracePeriod
}

// EffectiveEpoch returns the epoch at which a write made now becomes
// effective. Writes made in the final GracePeriod blocks of an epoch would
// otherwise land in a snapshot that may already be in flight to remote
// chains, so they are deferred one extra epoch.
func (c *Clock) EffectiveEpoch() uint64 {
	if c.IsInGracePeriod() {
		return c.CurrentEpoch() + 2
	}
	return c.CurrentEpoch() + 1
}

// EpochInterval returns the first and last heights of the given epoch.
func (c *Clock) EpochInterval(e uint64) (start uint64, end uint64) {
	start = c.cfg.GenesisHeight + e*c.cfg.EpochLength
	end = start + c.cfg.EpochLength - 1
	return start, end
}

// SyncedEpoch returns the last epoch marked as dispatched.
func (c *Clock) SyncedEpoch() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncedEpoch, c.hasSynced
}

// Advance marks the next epoch as dispatched and returns it.
func (c *Clock) Advance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSynced {
		c.hasSynced = true
		return c.syncedEpoch
	}
	c.syncedEpoch++
	return c.syncedEpoch
}

// Revert rolls back the last Advance. Only the current synced epoch can be
// reverted; there is no rollback path for older epochs.
func (c *Clock) Revert(e uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSynced {
		return ErrNoSyncedEpoch
	}
	if e != c.syncedEpoch {
		return errors.Wrapf(ErrEpochNotCurrent, "epoch %d, current %d", e, c.syncedEpoch)
	}
	if c.syncedEpoch == 0 {
		c.hasSynced = false
		return nil
	}
	c.syncedEpoch--
	return nil
}
