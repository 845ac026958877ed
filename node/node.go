// Package node assembles the statelayer services on the canonical chain and
// runs them: the chain height source feeding the epoch clock, the relay loop
// that broadcasts each completed epoch's updates, and the metrics endpoint.
package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/statelayer/statelayer/epoch"
	"github.com/statelayer/statelayer/logging/fields"
)

const defaultRelayInterval = 12 * time.Second

// HeightRunner is a height source that needs its own polling loop, such as
// epoch.ChainHeightSource.
type HeightRunner interface {
	Run(ctx context.Context) error
}

// UpdateBroadcaster pushes one epoch's pending updates to every destination
// chain. Satisfied by syncer.Sender.
type UpdateBroadcaster interface {
	SendUpdates(ctx context.Context, epoch uint64) error
}

type Options struct {
	RelayInterval time.Duration `yaml:"RelayInterval" env:"RELAY_INTERVAL" env-default:"12s" env-description:"How often the relay loop checks for completed epochs"`
	MetricsPort   int           `yaml:"MetricsPort" env:"METRICS_PORT" env-default:"0" env-description:"Port for the prometheus metrics endpoint (0 disables it)"`
}

// Node ties the canonical-side services together.
type Node struct {
	logger *zap.Logger
	clock  *epoch.Clock
	sender UpdateBroadcaster
	height HeightRunner
	opts   Options
}

func New(logger *zap.Logger, clock *epoch.Clock, sender UpdateBroadcaster, height HeightRunner, opts Options) *Node {
	return &Node{
		logger: logger,
		clock:  clock,
		sender: sender,
		height: height,
		opts:   opts,
	}
}

// Start runs the node's loops until the context is canceled or one of them
// fails.
func (n *Node) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	if n.height != nil {
		group.Go(func() error {
			return n.height.Run(ctx)
		})
	}
	group.Go(func() error {
		return n.relayLoop(ctx)
	})
	if n.opts.MetricsPort > 0 {
		group.Go(func() error {
			return n.serveMetrics(ctx)
		})
	}

	n.logger.Info("node started")
	return group.Wait()
}

// relayLoop broadcasts the pending updates of every epoch that has completed
// since the last dispatch. Send failures are retried on the next tick; the
// pending queue survives until every route accepts the broadcast.
func (n *Node) relayLoop(ctx context.Context) error {
	interval := n.opts.RelayInterval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.relayOnce(ctx)
		}
	}
}

func (n *Node) relayOnce(ctx context.Context) {
	current := n.clock.CurrentEpoch()
	metricCurrentEpoch.Set(float64(current))
	for {
		next := uint64(0)
		if synced, ok := n.clock.SyncedEpoch(); ok {
			next = synced + 1
		}
		if next > current {
			return
		}
		if err := n.sender.SendUpdates(ctx, next); err != nil {
			n.logger.Warn("could not broadcast epoch updates",
				fields.Epoch(next), zap.Error(err))
			return
		}
		metricSyncedEpoch.Set(float64(n.clock.Advance()))
		n.logger.Debug("epoch dispatched", fields.Epoch(next))
	}
}

func (n *Node) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.opts.MetricsPort),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	n.logger.Info("metrics endpoint listening", zap.Int("port", n.opts.MetricsPort))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server failed")
	}
	return nil
}
