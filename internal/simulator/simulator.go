// Package simulator replays candidate bundles against an isolated copy of
// snapshot state. Replay is deterministic: identical inputs always produce an
// identical result, gas is summed from the bundle's fixed gas schedules, and
// nothing outside the isolated copy is ever mutated.
package simulator

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/amm"
	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// Simulator is stateless and safe for concurrent use.
type Simulator struct {
	logger *slog.Logger
}

// New creates a Simulator.
func New(logger *slog.Logger) *Simulator {
	return &Simulator{logger: logger.With(slog.String("component", "simulator"))}
}

// run tracks the working copy for one bundle replay.
type run struct {
	pools     map[common.Address]domain.PoolState
	positions map[string]domain.Position
	deltas    map[common.Address]*big.Int
	// flashOwed maps borrow token to outstanding principal+fee.
	flashOwed map[common.Address]*big.Int
	gasUsed   uint64
}

// Simulate replays the bundle transaction by transaction against state copied
// from the given views. The first reverting transaction aborts the bundle and
// its reason is recorded; gas consumed up to the abort is reported.
func (s *Simulator) Simulate(
	bundle domain.Bundle,
	snap domain.ChainSnapshot,
	pools *state.PoolView,
	positions *state.PositionView,
) domain.SimulationResult {
	r := &run{
		pools:     make(map[common.Address]domain.PoolState),
		positions: make(map[string]domain.Position),
		deltas:    make(map[common.Address]*big.Int),
		flashOwed: make(map[common.Address]*big.Int),
	}

	res := domain.SimulationResult{
		SnapshotBlock: snap.Number,
		Generation:    pools.Generation(),
	}

	if bundle.TargetBlock != 0 && bundle.TargetBlock <= snap.Number {
		res.RevertReason = "bundle target block already mined"
		return res
	}

	for i, tx := range bundle.Txs {
		r.gasUsed += tx.BaseGas
		for _, step := range tx.Steps {
			r.gasUsed += step.Gas
			if reason := s.applyStep(r, step, pools, positions); reason != "" {
				res.RevertReason = fmt.Sprintf("tx %d: %s", i, reason)
				res.GasUsed = r.gasUsed
				return res
			}
		}
	}

	// Unrepaid flash loans revert the whole bundle.
	for token, owed := range r.flashOwed {
		if owed.Sign() > 0 {
			res.RevertReason = fmt.Sprintf("flash loan of %s not repaid", token.Hex())
			res.GasUsed = r.gasUsed
			return res
		}
	}

	res.Success = true
	res.GasUsed = r.gasUsed
	res.PoolDiff = r.pools
	res.TokenDeltas = r.deltas
	return res
}

func (s *Simulator) applyStep(r *run, step domain.Step, pools *state.PoolView, positions *state.PositionView) string {
	switch step.Kind {
	case domain.StepSwap:
		return s.applySwap(r, step, pools)
	case domain.StepFlashBorrow:
		fee := new(big.Int).Mul(step.Amount, big.NewInt(int64(step.FeeBps)))
		fee.Quo(fee, big.NewInt(10000))
		owed := new(big.Int).Add(step.Amount, fee)
		if prev, ok := r.flashOwed[step.Token]; ok {
			owed.Add(owed, prev)
		}
		r.flashOwed[step.Token] = owed
		r.credit(step.Token, step.Amount)
		return ""
	case domain.StepFlashRepay:
		owed, ok := r.flashOwed[step.Token]
		if !ok || owed.Sign() == 0 {
			return "flash repay without outstanding borrow"
		}
		r.debit(step.Token, owed)
		if r.deltas[step.Token].Sign() < 0 {
			return "insufficient funds to repay flash loan"
		}
		r.flashOwed[step.Token] = new(big.Int)
		return ""
	case domain.StepLiquidate:
		return s.applyLiquidate(r, step, positions)
	default:
		return fmt.Sprintf("unknown step kind %q", step.Kind)
	}
}

func (s *Simulator) applySwap(r *run, step domain.Step, pools *state.PoolView) string {
	pool, ok := r.pools[step.Pool]
	if !ok {
		pool, ok = pools.Get(step.Pool)
		if !ok {
			return fmt.Sprintf("unknown pool %s", step.Pool.Hex())
		}
	}

	out, err := amm.Quote(pool, step.TokenIn, step.AmountIn)
	if err != nil {
		return fmt.Sprintf("swap on %s: %v", step.Pool.Hex(), err)
	}
	if step.MinAmountOut != nil && out.Cmp(step.MinAmountOut) < 0 {
		return fmt.Sprintf("swap on %s: output %s below minimum %s", step.Pool.Hex(), out, step.MinAmountOut)
	}

	amm.Apply(&pool, step.TokenIn, step.AmountIn, out)
	r.pools[step.Pool] = pool
	r.debit(step.TokenIn, step.AmountIn)
	r.credit(step.TokenOut, out)
	return ""
}

func (s *Simulator) applyLiquidate(r *run, step domain.Step, positions *state.PositionView) string {
	key := step.Protocol + ":" + step.Borrower.Hex()
	pos, ok := r.positions[key]
	if !ok {
		pos, ok = positions.Get(key)
		if !ok {
			return fmt.Sprintf("position %s not found", key)
		}
	}

	var seized bool
	for i := range pos.Collateral {
		if pos.Collateral[i].Token != step.SeizeToken {
			continue
		}
		if pos.Collateral[i].Amount.Cmp(step.SeizeAmount) < 0 {
			return fmt.Sprintf("position %s: seize amount exceeds collateral", key)
		}
		pos.Collateral[i].Amount = new(big.Int).Sub(pos.Collateral[i].Amount, step.SeizeAmount)
		seized = true
		break
	}
	if !seized {
		return fmt.Sprintf("position %s: no %s collateral", key, step.SeizeToken.Hex())
	}

	var repaid bool
	for i := range pos.Debt {
		if pos.Debt[i].Token != step.DebtToken {
			continue
		}
		if pos.Debt[i].Amount.Cmp(step.RepayAmount) < 0 {
			return fmt.Sprintf("position %s: repay amount exceeds debt", key)
		}
		pos.Debt[i].Amount = new(big.Int).Sub(pos.Debt[i].Amount, step.RepayAmount)
		repaid = true
		break
	}
	if !repaid {
		return fmt.Sprintf("position %s: no %s debt", key, step.DebtToken.Hex())
	}

	r.positions[key] = pos
	r.debit(step.DebtToken, step.RepayAmount)
	r.credit(step.SeizeToken, step.SeizeAmount)
	return ""
}

func (r *run) credit(token common.Address, amount *big.Int) {
	cur, ok := r.deltas[token]
	if !ok {
		cur = new(big.Int)
	}
	r.deltas[token] = new(big.Int).Add(cur, amount)
}

func (r *run) debit(token common.Address, amount *big.Int) {
	cur, ok := r.deltas[token]
	if !ok {
		cur = new(big.Int)
	}
	r.deltas[token] = new(big.Int).Sub(cur, amount)
}
