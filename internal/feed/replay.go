package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// ReplayFeed serves a recorded sequence of block diffs and pending
// observations at a fixed cadence, for offline analysis runs and tests.
type ReplayFeed struct {
	diffs    []domain.BlockDiff
	mempool  []domain.PendingTransaction
	interval time.Duration
	blocks   chan domain.BlockDiff
	pending  chan domain.PendingTransaction
	logger   *slog.Logger
}

// NewReplayFeed creates a feed over recorded data. interval <= 0 replays as
// fast as the engine consumes.
func NewReplayFeed(diffs []domain.BlockDiff, mempool []domain.PendingTransaction, interval time.Duration, logger *slog.Logger) *ReplayFeed {
	return &ReplayFeed{
		diffs:    diffs,
		mempool:  mempool,
		interval: interval,
		blocks:   make(chan domain.BlockDiff),
		pending:  make(chan domain.PendingTransaction),
		logger:   logger.With(slog.String("component", "replay_feed")),
	}
}

// Blocks implements domain.ChainDataFeed.
func (f *ReplayFeed) Blocks() <-chan domain.BlockDiff { return f.blocks }

// Pending implements domain.ChainDataFeed.
func (f *ReplayFeed) Pending() <-chan domain.PendingTransaction { return f.pending }

// Healthy implements domain.ChainDataFeed; a replay is healthy until drained.
func (f *ReplayFeed) Healthy() bool { return true }

// Run pushes the recording through the channels in order, pending
// observations interleaved before the block they preceded, then closes both
// streams. The engine treats the closed block stream as end of input.
func (f *ReplayFeed) Run(ctx context.Context) error {
	defer close(f.blocks)
	defer close(f.pending)

	f.logger.Info("replay started",
		slog.Int("blocks", len(f.diffs)),
		slog.Int("pending", len(f.mempool)),
	)

	mp := f.mempool
	for _, diff := range f.diffs {
		for len(mp) > 0 && !mp[0].FirstSeen.After(diff.Snapshot.Time) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f.pending <- mp[0]:
				mp = mp[1:]
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f.blocks <- diff:
		}
		if f.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.interval):
			}
		}
	}
	f.logger.Info("replay drained")
	return nil
}
