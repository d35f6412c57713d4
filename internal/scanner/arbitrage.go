package scanner

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/arbiterlabs/mevscan/internal/amm"
	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// ArbitrageConfig tunes cycle detection.
type ArbitrageConfig struct {
	// MinMarginBps is the minimum output-over-input margin for a cycle to
	// become a candidate.
	MinMarginBps uint32
	// ProbeAmounts is the ladder of input sizes tried per cycle; the most
	// profitable probe wins.
	ProbeAmounts []*big.Int
	// ValidityBlocks bounds how long a candidate stays actionable.
	ValidityBlocks uint64
	// BaseTxGas and SwapGas are the fixed gas schedules used when building
	// the candidate bundle.
	BaseTxGas uint64
	SwapGas   uint64
	// BaseConfidence is the scanner's prior before scoring adjusts it.
	BaseConfidence float64
}

// DefaultArbitrageConfig returns the detection defaults. Probe amounts are in
// wei and assume 18-decimal pool tokens.
func DefaultArbitrageConfig() ArbitrageConfig {
	return ArbitrageConfig{
		MinMarginBps: 10,
		ProbeAmounts: []*big.Int{
			big.NewInt(1e15),
			big.NewInt(1e16),
			big.NewInt(1e17),
		},
		ValidityBlocks: 2,
		BaseTxGas:      21000,
		SwapGas:        120000,
		BaseConfidence: 0.9,
	}
}

// ArbitrageScanner enumerates two-pool and triangular cycles across the
// tracked pools on every confirmed block and emits one candidate per distinct
// profitable cycle. Cycle keys are rotation-invariant so the same cycle found
// from a different starting pool deduplicates to one candidate.
type ArbitrageScanner struct {
	cfg    ArbitrageConfig
	live   LiveFunc
	logger *slog.Logger
}

// NewArbitrageScanner creates the scanner. live suppresses keys the queue
// already holds.
func NewArbitrageScanner(cfg ArbitrageConfig, live LiveFunc, logger *slog.Logger) *ArbitrageScanner {
	if len(cfg.ProbeAmounts) == 0 {
		cfg.ProbeAmounts = DefaultArbitrageConfig().ProbeAmounts
	}
	if cfg.ValidityBlocks == 0 {
		cfg.ValidityBlocks = 2
	}
	return &ArbitrageScanner{
		cfg:    cfg,
		live:   live,
		logger: logger.With(slog.String("component", "arbitrage_scanner")),
	}
}

func (s *ArbitrageScanner) Name() string              { return "arbitrage" }
func (s *ArbitrageScanner) Kind() domain.StrategyKind { return domain.StrategyArbitrage }

// OnPendingTx is a no-op; arbitrage works off committed state only.
func (s *ArbitrageScanner) OnPendingTx(context.Context, domain.PendingTransaction, domain.ChainSnapshot) ([]domain.Opportunity, error) {
	return nil, nil
}

// cycle is one directed candidate path: hops[i] swaps tokens[i] for
// tokens[i+1 mod len].
type cycle struct {
	hops   []domain.PoolState
	tokens []common.Address
}

// OnBlock enumerates cycles over the pool view and returns the profitable
// ones, best probe per cycle, deduplicated by canonical key.
func (s *ArbitrageScanner) OnBlock(ctx context.Context, snap domain.ChainSnapshot, pools *state.PoolView, _ *state.PositionView) ([]domain.Opportunity, error) {
	byToken := make(map[common.Address][]domain.PoolState)
	pools.Each(func(p domain.PoolState) {
		if !quotable(p) {
			return
		}
		byToken[p.Token0] = append(byToken[p.Token0], p)
		byToken[p.Token1] = append(byToken[p.Token1], p)
	})

	best := make(map[string]domain.Opportunity)
	for _, c := range enumerateCycles(byToken) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opp, ok := s.evaluate(c, snap)
		if !ok {
			continue
		}
		if cur, exists := best[opp.Key]; !exists || opp.GrossRevenue.Cmp(cur.GrossRevenue) > 0 {
			best[opp.Key] = opp
		}
	}

	out := make([]domain.Opportunity, 0, len(best))
	for key, opp := range best {
		if s.live != nil && s.live(key) {
			continue
		}
		out = append(out, opp)
	}
	if len(out) > 0 {
		s.logger.Debug("arbitrage cycles found",
			slog.Uint64("block", snap.Number),
			slog.Int("candidates", len(out)),
		)
	}
	return out, nil
}

// enumerateCycles walks the token adjacency graph for directed cycles of
// length two and three. Every rotation of a cycle is produced; canonical keys
// collapse them later.
func enumerateCycles(byToken map[common.Address][]domain.PoolState) []cycle {
	var out []cycle
	for t0, firstHops := range byToken {
		for _, p1 := range firstHops {
			t1, ok := p1.Other(t0)
			if !ok || t1 == t0 {
				continue
			}
			for _, p2 := range byToken[t1] {
				if p2.Address == p1.Address {
					continue
				}
				t2, ok := p2.Other(t1)
				if !ok {
					continue
				}
				if t2 == t0 {
					out = append(out, cycle{
						hops:   []domain.PoolState{p1, p2},
						tokens: []common.Address{t0, t1},
					})
					continue
				}
				for _, p3 := range byToken[t2] {
					if p3.Address == p1.Address || p3.Address == p2.Address {
						continue
					}
					if back, ok := p3.Other(t2); ok && back == t0 {
						out = append(out, cycle{
							hops:   []domain.PoolState{p1, p2, p3},
							tokens: []common.Address{t0, t1, t2},
						})
					}
				}
			}
		}
	}
	return out
}

// evaluate walks the cycle for each probe amount and builds an opportunity
// from the most profitable one, if any clears the margin.
func (s *ArbitrageScanner) evaluate(c cycle, snap domain.ChainSnapshot) (domain.Opportunity, bool) {
	var (
		bestIn     *big.Int
		bestProfit *big.Int
		bestHops   []*big.Int
	)

	for _, in := range s.cfg.ProbeAmounts {
		out, hopAmounts, err := s.walk(c, in)
		if err != nil {
			continue // zero reserves or drained liquidity, skip the probe
		}
		profit := new(big.Int).Sub(out, in)
		if profit.Sign() <= 0 {
			continue
		}
		margin := new(big.Int).Mul(profit, big.NewInt(10000))
		margin.Quo(margin, in)
		if margin.Cmp(big.NewInt(int64(s.cfg.MinMarginBps))) < 0 {
			continue
		}
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			bestIn, bestProfit, bestHops = in, profit, hopAmounts
		}
	}
	if bestProfit == nil {
		return domain.Opportunity{}, false
	}

	addrs := make([]common.Address, len(c.hops))
	for i, p := range c.hops {
		addrs[i] = p.Address
	}
	key := cycleKey(addrs)

	// Floor on the final hop: the cycle must at least return the input plus
	// the configured margin or the bundle reverts.
	required := new(big.Int).Mul(bestIn, big.NewInt(int64(10000+s.cfg.MinMarginBps)))
	required.Quo(required, big.NewInt(10000))

	steps := make([]domain.Step, len(c.hops))
	for i, p := range c.hops {
		tokenIn := c.tokens[i]
		tokenOut := c.tokens[(i+1)%len(c.tokens)]
		amountIn := bestIn
		if i > 0 {
			amountIn = bestHops[i-1]
		}
		steps[i] = domain.Step{
			Kind:     domain.StepSwap,
			Gas:      s.cfg.SwapGas,
			Pool:     p.Address,
			TokenIn:  tokenIn,
			TokenOut: tokenOut,
			AmountIn: amountIn,
		}
	}
	steps[len(steps)-1].MinAmountOut = required

	return domain.Opportunity{
		ID:            uuid.NewString(),
		Key:           key,
		Strategy:      domain.StrategyArbitrage,
		SnapshotBlock: snap.Number,
		ValidFrom:     snap.Number,
		ValidUntil:    snap.Number + s.cfg.ValidityBlocks,
		GrossRevenue:  bestProfit,
		Confidence:    s.cfg.BaseConfidence,
		Urgency:       domain.UrgencyNormal,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OppDetected,
		Bundle: domain.Bundle{
			TargetBlock: snap.Number + 1,
			Txs: []domain.BundleTx{{
				BaseGas: s.cfg.BaseTxGas,
				Steps:   steps,
			}},
		},
		Pools: addrs,
	}, true
}

// walk quotes the cycle hop by hop and returns the final output plus each
// intermediate amount. Pools appear at most once per cycle, so quoting against
// the unmodified view state is exact.
func (s *ArbitrageScanner) walk(c cycle, in *big.Int) (*big.Int, []*big.Int, error) {
	amount := in
	hopAmounts := make([]*big.Int, 0, len(c.hops))
	for i, p := range c.hops {
		out, err := amm.Quote(p, c.tokens[i], amount)
		if err != nil {
			return nil, nil, err
		}
		hopAmounts = append(hopAmounts, out)
		amount = out
	}
	return amount, hopAmounts, nil
}

// cycleKey canonicalizes a directed pool cycle: rotate so the smallest pool
// address leads, then hash the rotated sequence. Rotations of the same cycle
// always share a key.
func cycleKey(addrs []common.Address) string {
	min := 0
	for i := 1; i < len(addrs); i++ {
		if bytes.Compare(addrs[i][:], addrs[min][:]) < 0 {
			min = i
		}
	}
	buf := make([]byte, 0, len(addrs)*common.AddressLength)
	for i := 0; i < len(addrs); i++ {
		a := addrs[(min+i)%len(addrs)]
		buf = append(buf, a[:]...)
	}
	return "arb:" + common.BytesToHash(crypto.Keccak256(buf)).Hex()
}

// quotable filters pools with enough state to price a swap.
func quotable(p domain.PoolState) bool {
	switch p.Kind {
	case domain.PoolConcentrated:
		return p.SqrtPriceX96 != nil && p.SqrtPriceX96.Sign() > 0 &&
			p.Liquidity != nil && p.Liquidity.Sign() > 0
	default:
		return p.Reserve0 != nil && p.Reserve0.Sign() > 0 &&
			p.Reserve1 != nil && p.Reserve1.Sign() > 0
	}
}
