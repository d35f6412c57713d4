package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/gas"
	"github.com/arbiterlabs/mevscan/internal/profit"
	"github.com/arbiterlabs/mevscan/internal/queue"
	"github.com/arbiterlabs/mevscan/internal/scanner"
	"github.com/arbiterlabs/mevscan/internal/simulator"
	"github.com/arbiterlabs/mevscan/internal/state"
)

type memStore struct {
	mu       sync.Mutex
	inserted []domain.Opportunity
	resolved map[string]domain.ResolveOutcome
}

func newMemStore() *memStore {
	return &memStore{resolved: make(map[string]domain.ResolveOutcome)}
}

func (s *memStore) Insert(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, opp)
	return nil
}

func (s *memStore) MarkResolved(_ context.Context, id string, outcome domain.ResolveOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[id] = outcome
	return nil
}

func (s *memStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) { return nil, nil }
func (s *memStore) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *memStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus { return &memBus{messages: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

var (
	tokA   = common.HexToAddress("0x0a")
	tokB   = common.HexToAddress("0x0b")
	tokC   = common.HexToAddress("0x0c")
	poolAB = common.HexToAddress("0x01")
	poolBC = common.HexToAddress("0x02")
	poolCA = common.HexToAddress("0x03")
)

func pipelineFixture(t *testing.T) (*state.PoolCache, *state.PositionTracker, domain.ChainSnapshot) {
	t.Helper()
	pools := state.NewPoolCache([]domain.PoolState{{
		Address: poolAB, Kind: domain.PoolConstantProduct,
		Token0: tokA, Token1: tokB, FeeBps: 30,
		Reserve0: big.NewInt(1_000_000_000), Reserve1: big.NewInt(1_000_000_000),
	}}, slog.Default())
	positions := state.NewPositionTracker(nil, slog.Default())

	snap := domain.ChainSnapshot{Number: 100, BaseFee: big.NewInt(1)}
	pools.Apply(domain.BlockDiff{Snapshot: snap})
	positions.Apply(domain.BlockDiff{Snapshot: snap})
	return pools, positions, snap
}

func swapCandidate(snap domain.ChainSnapshot) domain.Opportunity {
	return domain.Opportunity{
		ID:            "opp-1",
		Key:           "arb:test",
		Strategy:      domain.StrategyArbitrage,
		SnapshotBlock: snap.Number,
		ValidFrom:     snap.Number,
		ValidUntil:    snap.Number + 2,
		// A single swap nets tokens it does not return to; the detection
		// estimate values the B-for-A edge.
		GrossRevenue: big.NewInt(800_000),
		Confidence:   0.9,
		Urgency:       domain.UrgencyNormal,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OppDetected,
		Bundle: domain.Bundle{
			TargetBlock: snap.Number + 1,
			Txs: []domain.BundleTx{{
				BaseGas: 21000,
				Steps: []domain.Step{{
					Kind: domain.StepSwap, Gas: 120000,
					Pool: poolAB, TokenIn: tokA, TokenOut: tokB,
					AmountIn: big.NewInt(10_000_000),
				}},
			}},
		},
		Pools: []common.Address{poolAB},
	}
}

func TestRunner_CandidateToQueue(t *testing.T) {
	pools, positions, snap := pipelineFixture(t)
	logger := slog.Default()

	sims := simulator.NewWorkerPool(simulator.New(logger), pools, positions, simulator.PoolConfig{Workers: 2}, logger)
	optimizer := gas.NewOptimizer(gas.Config{FloorTip: big.NewInt(1), FloorMaxFee: big.NewInt(2)}, logger)
	calc := profit.New(profit.Config{SlippageBufferBps: 0, CompetitionDecay: 0.85}, logger)
	q := queue.New(0, logger)
	store := newMemStore()
	bus := newMemBus()

	candidates := make(chan domain.Opportunity, 1)
	runner := NewRunner(RunnerConfig{
		Candidates: candidates,
		Sims:       sims,
		Optimizer:  optimizer,
		Calculator: calc,
		Queue:      q,
		Head:       func() (domain.ChainSnapshot, bool) { return snap, true },
		Rivals:     func([]common.Address) int { return 0 },
		Bus:        bus,
		Store:      store,
		Logger:     logger,
	})

	candidates <- swapCandidate(snap)
	close(candidates)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if q.Len() != 1 {
		t.Fatalf("queue holds %d entries, want 1", q.Len())
	}
	queued := q.Snapshot()[0]
	if queued.Status != domain.OppQueued {
		t.Errorf("status = %s, want queued", queued.Status)
	}
	if queued.NetProfit == nil || queued.NetProfit.Sign() <= 0 {
		t.Errorf("net profit = %v, want positive", queued.NetProfit)
	}

	if len(store.inserted) != 1 {
		t.Errorf("history rows = %d, want 1", len(store.inserted))
	}
	if len(bus.messages["opportunities"]) != 1 {
		t.Errorf("bus events = %d, want 1", len(bus.messages["opportunities"]))
	}
}

// triangularCache seeds the three-pool cycle with reserve pairs (100,100),
// (95,100) and (100,105) at 0.3% fee, committed at block 100. seed order
// varies per call site to prove detection is order-independent.
func triangularCache(t *testing.T, seed []domain.PoolState) (*state.PoolCache, domain.ChainSnapshot) {
	t.Helper()
	cache := state.NewPoolCache(seed, slog.Default())
	snap := domain.ChainSnapshot{Number: 100, BaseFee: big.NewInt(30)}
	cache.Apply(domain.BlockDiff{Snapshot: snap})
	return cache, snap
}

func triangularPools() []domain.PoolState {
	const unit = 1_000_000_000
	cp := func(addr, t0, t1 common.Address, r0, r1 int64) domain.PoolState {
		return domain.PoolState{
			Address: addr, Kind: domain.PoolConstantProduct,
			Token0: t0, Token1: t1, FeeBps: 30,
			Reserve0: big.NewInt(r0 * unit), Reserve1: big.NewInt(r1 * unit),
		}
	}
	return []domain.PoolState{
		cp(poolAB, tokA, tokB, 100, 100),
		cp(poolBC, tokB, tokC, 95, 100),
		cp(poolCA, tokC, tokA, 100, 105),
	}
}

// Carries a detected triangular cycle through simulation, fee selection and
// scoring into the queue, and checks the cost netting is exact: the cycle's
// price imbalance must survive three swap fees and the gas bill with profit
// to spare.
func TestRunner_TriangularArbitrageEndToEnd(t *testing.T) {
	logger := slog.Default()
	seed := triangularPools()
	pools, snap := triangularCache(t, seed)
	positions := state.NewPositionTracker(nil, logger)
	positions.Apply(domain.BlockDiff{Snapshot: snap})

	cfg := scanner.DefaultArbitrageConfig()
	cfg.ProbeAmounts = []*big.Int{big.NewInt(1_000_000_000)}
	detect := scanner.NewArbitrageScanner(cfg, nil, logger)

	opps, err := detect.OnBlock(context.Background(), snap, pools.View(), nil)
	if err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("detected %d candidates, want 1", len(opps))
	}

	// The same cycle entered from a different starting pool must collapse to
	// the same opportunity key.
	rotated, _ := triangularCache(t, []domain.PoolState{seed[2], seed[0], seed[1]})
	again, err := detect.OnBlock(context.Background(), snap, rotated.View(), nil)
	if err != nil {
		t.Fatalf("OnBlock rotated: %v", err)
	}
	if len(again) != 1 || again[0].Key != opps[0].Key {
		t.Fatalf("rotated seed produced key %q, want %q", again[0].Key, opps[0].Key)
	}

	sims := simulator.NewWorkerPool(simulator.New(logger), pools, positions, simulator.PoolConfig{Workers: 2}, logger)
	optimizer := gas.NewOptimizer(gas.Config{FloorTip: big.NewInt(5), FloorMaxFee: big.NewInt(100)}, logger)
	calc := profit.New(profit.Config{SlippageBufferBps: 0, CompetitionDecay: 0.85}, logger)
	q := queue.New(0, logger)

	candidates := make(chan domain.Opportunity, 1)
	runner := NewRunner(RunnerConfig{
		Candidates: candidates,
		Sims:       sims,
		Optimizer:  optimizer,
		Calculator: calc,
		Queue:      q,
		Head:       func() (domain.ChainSnapshot, bool) { return snap, true },
		Logger:     logger,
	})

	candidates <- opps[0]
	close(candidates)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	queued, ok := q.Dequeue()
	if !ok {
		t.Fatal("candidate did not survive simulate+score")
	}
	if queued.Key != opps[0].Key {
		t.Errorf("queued key = %q, want %q", queued.Key, opps[0].Key)
	}
	if queued.NetProfit == nil || queued.NetProfit.Sign() <= 0 {
		t.Fatalf("net profit = %v, want positive after gas", queued.NetProfit)
	}

	// Exact netting at the floor bid: effective price min(100, 30+5) = 35,
	// gas 21000 base + 3 swap hops at 120000.
	wantGas := uint64(21000 + 3*120000)
	if queued.GasUsed != wantGas {
		t.Errorf("gas used = %d, want %d", queued.GasUsed, wantGas)
	}
	wantNet := new(big.Int).Sub(queued.GrossRevenue, new(big.Int).Mul(
		new(big.Int).SetUint64(wantGas), big.NewInt(35)))
	if queued.NetProfit.Cmp(wantNet) != 0 {
		t.Errorf("net profit = %s, want exactly %s", queued.NetProfit, wantNet)
	}
}

func TestRunner_StaleCandidateDropped(t *testing.T) {
	pools, positions, snap := pipelineFixture(t)
	logger := slog.Default()

	sims := simulator.NewWorkerPool(simulator.New(logger), pools, positions, simulator.PoolConfig{Workers: 2}, logger)
	optimizer := gas.NewOptimizer(gas.Config{}, logger)
	calc := profit.New(profit.DefaultConfig(), logger)
	q := queue.New(0, logger)

	head := domain.ChainSnapshot{Number: 105} // the head has moved on
	candidates := make(chan domain.Opportunity, 1)
	runner := NewRunner(RunnerConfig{
		Candidates: candidates,
		Sims:       sims,
		Optimizer:  optimizer,
		Calculator: calc,
		Queue:      q,
		Head:       func() (domain.ChainSnapshot, bool) { return head, true },
		Logger:     logger,
	})

	candidates <- swapCandidate(snap)
	close(candidates)
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("stale candidate reached the queue")
	}
}

func TestDispatcherBridge_ConsumeAndResolve(t *testing.T) {
	logger := slog.Default()
	q := queue.New(0, logger)
	store := newMemStore()
	bridge := NewDispatcherBridge(q, nil, store, 10*time.Millisecond, logger)

	opp := swapCandidate(domain.ChainSnapshot{Number: 100})
	opp.NetProfit = big.NewInt(500)
	opp.GasUsed = 141000
	if _, err := q.Enqueue(opp); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := bridge.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.Key != opp.Key || got.Status != domain.OppDispatched {
		t.Errorf("consumed %s status %s", got.Key, got.Status)
	}

	if err := bridge.Resolve(got.Key, domain.OutcomeDispatched); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome := store.resolved[got.ID]; outcome != domain.OutcomeDispatched {
		t.Errorf("stored outcome = %s", outcome)
	}
	if err := bridge.Resolve(got.Key, domain.OutcomeDispatched); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double resolve = %v, want ErrNotFound", err)
	}

	// An empty queue blocks until cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := bridge.Consume(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Consume on empty queue = %v, want deadline", err)
	}
}
