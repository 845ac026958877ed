package epoch

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/statelayer/statelayer/logging/fields"
)

// BlockNumberReader is the subset of an execution client used to follow the
// chain height. *ethclient.Client satisfies it.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainHeightSource polls an execution client and caches the latest chain
// height. It satisfies HeightProvider.
type ChainHeightSource struct {
	logger   *zap.Logger
	client   BlockNumberReader
	interval time.Duration

	height atomic.Uint64
}

func NewChainHeightSource(logger *zap.Logger, client BlockNumberReader, interval time.Duration) *ChainHeightSource {
	if interval == 0 {
		interval = 12 * time.Second
	}
	return &ChainHeightSource{
		logger:   logger,
		client:   client,
		interval: interval,
	}
}

func (s *ChainHeightSource) Height() uint64 {
	return s.height.Load()
}

// Run polls the chain height until the context is canceled.
func (s *ChainHeightSource) Run(ctx context.Context) error {
	if err := s.poll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.logger.Warn("failed to poll chain height", zap.Error(err))
			}
		}
	}
}

func (s *ChainHeightSource) poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	height, err := s.client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	// The height never moves backward; a lagging fallback endpoint must not
	// rewind the epoch clock.
	for {
		prev := s.height.Load()
		if height <= prev {
			return nil
		}
		if s.height.CompareAndSwap(prev, height) {
			s.logger.Debug("chain height updated", fields.Height(height))
			return nil
		}
	}
}
