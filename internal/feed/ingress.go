// Package feed bridges the external node-connectivity layer into the core's
// stream contract. The ingress accepts push callbacks from the connectivity
// layer and exposes the bounded channels the scan engine consumes; a replay
// feed serves recorded diffs for offline runs.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// IngressConfig sizes the ingress buffers.
type IngressConfig struct {
	// BlockBuffer bounds the confirmed-block channel. Block delivery applies
	// backpressure when full; blocks are never dropped.
	BlockBuffer int
	// PendingBuffer bounds the mempool channel. Mempool observations are
	// best-effort: when full, the oldest observation is dropped first.
	PendingBuffer int
}

// Ingress adapts the connectivity layer's push callbacks to the pull contract
// of domain.ChainDataFeed. It owns no sockets; the caller invokes OnBlock and
// OnPendingTransaction from its own receive loops and Close when the upstream
// connection is gone for good.
type Ingress struct {
	// mu serializes Close against in-progress sends: senders hold the read
	// side for the duration of a delivery, Close takes the write side before
	// touching the channels. done is closed first, outside mu, so a sender
	// blocked on a full buffer wakes up and releases its read lock.
	mu        sync.RWMutex
	blocks    chan domain.BlockDiff
	pending   chan domain.PendingTransaction
	healthy   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	logger    *slog.Logger
}

// NewIngress creates an Ingress.
func NewIngress(cfg IngressConfig, logger *slog.Logger) *Ingress {
	if cfg.BlockBuffer <= 0 {
		cfg.BlockBuffer = 16
	}
	if cfg.PendingBuffer <= 0 {
		cfg.PendingBuffer = 1024
	}
	in := &Ingress{
		blocks:  make(chan domain.BlockDiff, cfg.BlockBuffer),
		pending: make(chan domain.PendingTransaction, cfg.PendingBuffer),
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "feed_ingress")),
	}
	in.healthy.Store(true)
	return in
}

// Blocks implements domain.ChainDataFeed.
func (in *Ingress) Blocks() <-chan domain.BlockDiff { return in.blocks }

// Pending implements domain.ChainDataFeed.
func (in *Ingress) Pending() <-chan domain.PendingTransaction { return in.pending }

// Healthy implements domain.ChainDataFeed.
func (in *Ingress) Healthy() bool { return in.healthy.Load() }

// OnBlock delivers one confirmed block diff, blocking while the engine works
// through the backlog. Per-block ordering is preserved.
func (in *Ingress) OnBlock(ctx context.Context, diff domain.BlockDiff) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	// While the read lock is held the channels cannot be closed; done closed
	// here means Close already ran and the send case must not be offered.
	select {
	case <-in.done:
		return domain.ErrFeedDown
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.done:
		return domain.ErrFeedDown
	case in.blocks <- diff:
		return nil
	}
}

// OnPendingTransaction delivers one mempool observation. When the buffer is
// full the oldest observation is discarded so fresh traffic keeps flowing.
func (in *Ingress) OnPendingTransaction(tx domain.PendingTransaction) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	select {
	case <-in.done:
		return
	default:
	}
	for {
		select {
		case in.pending <- tx:
			return
		default:
		}
		select {
		case dropped := <-in.pending:
			in.logger.Debug("pending buffer full, dropped oldest",
				slog.String("tx", dropped.Hash.Hex()),
			)
		default:
		}
	}
}

// SetHealthy records the upstream connection state for the health signal.
func (in *Ingress) SetHealthy(ok bool) {
	in.healthy.Store(ok)
}

// Close marks the feed permanently down and closes both streams. The engine
// treats a closed block stream as fatal.
func (in *Ingress) Close() {
	in.closeOnce.Do(func() {
		in.healthy.Store(false)
		close(in.done)
		in.mu.Lock()
		close(in.blocks)
		close(in.pending)
		in.mu.Unlock()
	})
}
