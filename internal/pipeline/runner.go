// Package pipeline wires the detection stages together: the runner carries
// each candidate from the scan engine through simulation, fee selection and
// scoring into the queue, the dispatcher bridge exposes the queue to the
// external executor, and the archiver moves resolved history to cold storage.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/gas"
	"github.com/arbiterlabs/mevscan/internal/profit"
	"github.com/arbiterlabs/mevscan/internal/queue"
	"github.com/arbiterlabs/mevscan/internal/simulator"
)

// RivalFunc estimates how many pending transactions compete for the same
// pools. A nil func means no competition signal.
type RivalFunc func(pools []common.Address) int

// HeadFunc returns the most recently applied chain snapshot, false before the
// first block.
type HeadFunc func() (domain.ChainSnapshot, bool)

// queuedEvent is the JSON shape published to the "opportunities" channel.
type queuedEvent struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	Strategy  string  `json:"strategy"`
	Block     uint64  `json:"block"`
	NetProfit string  `json:"net_profit"`
	GasUsed   uint64  `json:"gas_used"`
	Conf      float64 `json:"confidence"`
}

// Runner drains the scan engine's candidate stream: each candidate is
// simulated against its detection snapshot, priced at the optimizer's fee bid,
// scored, and enqueued. Accepted candidates are announced on the signal bus
// and written to history. Rejections along the way are expected traffic, not
// errors.
type Runner struct {
	candidates <-chan domain.Opportunity
	sims       *simulator.WorkerPool
	optimizer  *gas.Optimizer
	calc       *profit.Calculator
	queue      *queue.Queue
	head       HeadFunc
	rivals     RivalFunc
	bus        domain.SignalBus        // optional
	store      domain.OpportunityStore // optional
	logger     *slog.Logger
}

// RunnerConfig collects the runner's collaborators. Bus and Store may be nil
// in scan-only mode.
type RunnerConfig struct {
	Candidates <-chan domain.Opportunity
	Sims       *simulator.WorkerPool
	Optimizer  *gas.Optimizer
	Calculator *profit.Calculator
	Queue      *queue.Queue
	Head       HeadFunc
	Rivals     RivalFunc
	Bus        domain.SignalBus
	Store      domain.OpportunityStore
	Logger     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		candidates: cfg.Candidates,
		sims:       cfg.Sims,
		optimizer:  cfg.Optimizer,
		calc:       cfg.Calculator,
		queue:      cfg.Queue,
		head:       cfg.Head,
		rivals:     cfg.Rivals,
		bus:        cfg.Bus,
		store:      cfg.Store,
		logger:     cfg.Logger.With(slog.String("component", "pipeline_runner")),
	}
}

// Run processes candidates until ctx is cancelled or the candidate stream
// closes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("pipeline runner started")
	defer r.logger.Info("pipeline runner stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-r.candidates:
			if !ok {
				return nil
			}
			r.process(ctx, opp)
		}
	}
}

func (r *Runner) process(ctx context.Context, opp domain.Opportunity) {
	snap, ok := r.head()
	if !ok {
		return
	}
	if snap.Number != opp.SnapshotBlock {
		// The head moved while the candidate waited; its pricing is stale.
		r.logger.Debug("candidate snapshot superseded before simulation",
			slog.String("key", opp.Key),
			slog.Uint64("candidate_block", opp.SnapshotBlock),
			slog.Uint64("head", snap.Number),
		)
		return
	}
	res, err := r.sims.Submit(ctx, opp, snap)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSimCapacity),
			errors.Is(err, domain.ErrSnapshotMismatch),
			errors.Is(err, domain.ErrSnapshotSuperseded):
			r.logger.Debug("candidate dropped before scoring",
				slog.String("key", opp.Key),
				slog.String("reason", err.Error()),
			)
		default:
			r.logger.Warn("simulation submit failed",
				slog.String("key", opp.Key),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	bid := r.optimizer.SuggestFee(opp.Urgency)

	var rivals int
	if r.rivals != nil {
		rivals = r.rivals(opp.Pools)
	}
	scored, err := r.calc.Score(opp, res, bid, snap, rivals)
	if err != nil {
		r.logger.Debug("candidate rejected at scoring",
			slog.String("key", opp.Key),
			slog.String("reason", err.Error()),
		)
		return
	}

	accepted, err := r.queue.Enqueue(scored)
	if err != nil {
		r.logger.Debug("enqueue refused",
			slog.String("key", scored.Key),
			slog.String("reason", err.Error()),
		)
		return
	}
	if !accepted {
		return // an equal-or-better entry already holds the key
	}

	r.logger.Info("opportunity queued",
		slog.String("key", scored.Key),
		slog.String("strategy", string(scored.Strategy)),
		slog.String("net_profit", scored.NetProfit.String()),
		slog.Uint64("gas_used", scored.GasUsed),
	)
	r.announce(ctx, scored)
	r.persist(ctx, scored)
}

func (r *Runner) announce(ctx context.Context, opp domain.Opportunity) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(queuedEvent{
		ID:        opp.ID,
		Key:       opp.Key,
		Strategy:  string(opp.Strategy),
		Block:     opp.SnapshotBlock,
		NetProfit: opp.NetProfit.String(),
		GasUsed:   opp.GasUsed,
		Conf:      opp.Confidence,
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, "opportunities", payload); err != nil {
		r.logger.Warn("publish failed",
			slog.String("key", opp.Key),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) persist(ctx context.Context, opp domain.Opportunity) {
	if r.store == nil {
		return
	}
	if err := r.store.Insert(ctx, opp); err != nil {
		r.logger.Warn("history insert failed",
			slog.String("key", opp.Key),
			slog.String("error", err.Error()),
		)
	}
}

// resolvedEvent is the JSON shape published to the "resolutions" channel.
type resolvedEvent struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	At      string `json:"at"`
}

// DispatcherBridge implements domain.Dispatcher over the queue: the external
// executor pulls the best live opportunity and reports back how it resolved.
type DispatcherBridge struct {
	queue *queue.Queue
	bus   domain.SignalBus        // optional
	store domain.OpportunityStore // optional
	poll  time.Duration

	mu       sync.Mutex
	inflight map[string]string // key -> id
	logger   *slog.Logger
}

// NewDispatcherBridge creates the bridge. poll bounds how long Consume sleeps
// between empty-queue checks.
func NewDispatcherBridge(q *queue.Queue, bus domain.SignalBus, store domain.OpportunityStore, poll time.Duration, logger *slog.Logger) *DispatcherBridge {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &DispatcherBridge{
		queue:    q,
		bus:      bus,
		store:    store,
		poll:     poll,
		inflight: make(map[string]string),
		logger:   logger.With(slog.String("component", "dispatcher_bridge")),
	}
}

// Consume blocks until a live opportunity is available or ctx is cancelled.
func (b *DispatcherBridge) Consume(ctx context.Context) (domain.Opportunity, error) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		if opp, ok := b.queue.Dequeue(); ok {
			b.mu.Lock()
			b.inflight[opp.Key] = opp.ID
			b.mu.Unlock()
			return opp, nil
		}
		select {
		case <-ctx.Done():
			return domain.Opportunity{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Resolve releases the in-flight lock and records the outcome.
func (b *DispatcherBridge) Resolve(key string, outcome domain.ResolveOutcome) error {
	if err := b.queue.Resolve(key, outcome); err != nil {
		return fmt.Errorf("resolve %s: %w", key, err)
	}
	b.mu.Lock()
	id := b.inflight[key]
	delete(b.inflight, key)
	b.mu.Unlock()

	ctx := context.Background()
	if b.store != nil && id != "" {
		if err := b.store.MarkResolved(ctx, id, outcome); err != nil {
			b.logger.Warn("history resolve failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	if b.bus != nil {
		payload, err := json.Marshal(resolvedEvent{
			ID:      id,
			Key:     key,
			Outcome: string(outcome),
			At:      time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err == nil {
			if err := b.bus.Publish(ctx, "resolutions", payload); err != nil {
				b.logger.Warn("publish failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}
