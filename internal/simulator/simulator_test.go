package simulator

import (
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

var (
	weth = common.HexToAddress("0x10")
	usdc = common.HexToAddress("0x20")
	dai  = common.HexToAddress("0x30")

	poolAB = common.HexToAddress("0xab")
	poolBC = common.HexToAddress("0xbc")
)

func cpPool(addr common.Address, t0, t1 common.Address, r0, r1 int64) domain.PoolState {
	return domain.PoolState{
		Address:  addr,
		Kind:     domain.PoolConstantProduct,
		Token0:   t0,
		Token1:   t1,
		FeeBps:   30,
		Reserve0: big.NewInt(r0),
		Reserve1: big.NewInt(r1),
	}
}

func fixtures(t *testing.T) (*state.PoolCache, *state.PositionTracker, domain.ChainSnapshot) {
	t.Helper()
	pc := state.NewPoolCache([]domain.PoolState{
		cpPool(poolAB, weth, usdc, 1_000_000, 1_000_000),
		cpPool(poolBC, usdc, dai, 1_000_000, 1_000_000),
	}, slog.Default())
	pc.Apply(domain.BlockDiff{
		Snapshot: domain.ChainSnapshot{Number: 100},
		Pools: []domain.PoolUpdate{
			{Pool: poolAB, Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(1_000_000)},
			{Pool: poolBC, Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(1_000_000)},
		},
	})
	pt := state.NewPositionTracker(nil, slog.Default())
	pt.Apply(domain.BlockDiff{Snapshot: domain.ChainSnapshot{Number: 100}})
	snap := domain.ChainSnapshot{Number: 100, BaseFee: big.NewInt(20)}
	return pc, pt, snap
}

func swapBundle(minOut int64) domain.Bundle {
	return domain.Bundle{
		TargetBlock: 101,
		Txs: []domain.BundleTx{{
			BaseGas: 21000,
			Steps: []domain.Step{
				{
					Kind: domain.StepSwap, Gas: 120000,
					Pool: poolAB, TokenIn: weth, TokenOut: usdc,
					AmountIn: big.NewInt(10_000), MinAmountOut: big.NewInt(minOut),
				},
				{
					Kind: domain.StepSwap, Gas: 120000,
					Pool: poolBC, TokenIn: usdc, TokenOut: dai,
					AmountIn: big.NewInt(9_000),
				},
			},
		}},
	}
}

func TestSimulate_SwapBundle(t *testing.T) {
	pc, pt, snap := fixtures(t)
	sim := New(slog.Default())

	res := sim.Simulate(swapBundle(0), snap, pc.View(), pt.View())
	if !res.Success {
		t.Fatalf("bundle reverted: %s", res.RevertReason)
	}
	if res.GasUsed != 21000+120000+120000 {
		t.Errorf("gas used = %d, want exact schedule sum 261000", res.GasUsed)
	}
	if res.SnapshotBlock != 100 {
		t.Errorf("snapshot block = %d, want 100", res.SnapshotBlock)
	}
	if res.TokenDeltas[weth].Sign() >= 0 {
		t.Error("weth delta should be negative (spent)")
	}
	if res.TokenDeltas[dai].Sign() <= 0 {
		t.Error("dai delta should be positive (received)")
	}
	if d, ok := res.PoolDiff[poolAB]; !ok || d.Reserve0.Int64() != 1_010_000 {
		t.Errorf("pool diff reserve0 = %v, want 1010000", d.Reserve0)
	}
}

func TestSimulate_Idempotent(t *testing.T) {
	pc, pt, snap := fixtures(t)
	sim := New(slog.Default())
	bundle := swapBundle(0)

	a := sim.Simulate(bundle, snap, pc.View(), pt.View())
	b := sim.Simulate(bundle, snap, pc.View(), pt.View())

	if a.Success != b.Success || a.GasUsed != b.GasUsed || a.RevertReason != b.RevertReason {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
	for tok, d := range a.TokenDeltas {
		if b.TokenDeltas[tok].Cmp(d) != 0 {
			t.Errorf("token delta for %s differs: %s vs %s", tok.Hex(), d, b.TokenDeltas[tok])
		}
	}
}

func TestSimulate_DoesNotMutateCache(t *testing.T) {
	pc, pt, snap := fixtures(t)
	sim := New(slog.Default())

	before, _ := pc.View().Get(poolAB)
	res := sim.Simulate(swapBundle(0), snap, pc.View(), pt.View())
	if !res.Success {
		t.Fatalf("bundle reverted: %s", res.RevertReason)
	}
	after, _ := pc.View().Get(poolAB)
	if before.Reserve0.Cmp(after.Reserve0) != 0 || before.Reserve1.Cmp(after.Reserve1) != 0 {
		t.Error("simulation mutated committed pool state")
	}
}

func TestSimulate_RevertsOnSlippage(t *testing.T) {
	pc, pt, snap := fixtures(t)
	sim := New(slog.Default())

	// Demand more out than the pool can possibly give.
	res := sim.Simulate(swapBundle(2_000_000), snap, pc.View(), pt.View())
	if res.Success {
		t.Fatal("bundle should have reverted on slippage")
	}
	if !strings.Contains(res.RevertReason, "below minimum") {
		t.Errorf("revert reason %q should mention minimum out", res.RevertReason)
	}
	// The reverting step's gas is still accounted.
	if res.GasUsed != 21000+120000 {
		t.Errorf("gas used = %d, want 141000 up to the revert", res.GasUsed)
	}
}

func TestSimulate_FlashLoanMustBeRepaid(t *testing.T) {
	pc, pt, snap := fixtures(t)
	sim := New(slog.Default())

	bundle := domain.Bundle{
		TargetBlock: 101,
		Txs: []domain.BundleTx{{
			BaseGas: 21000,
			Steps: []domain.Step{
				{Kind: domain.StepFlashBorrow, Gas: 40000, Token: weth, Amount: big.NewInt(1000), FeeBps: 9},
			},
		}},
	}
	res := sim.Simulate(bundle, snap, pc.View(), pt.View())
	if res.Success {
		t.Fatal("unrepaid flash loan should revert")
	}

	// Borrow + repay with enough surplus succeeds.
	bundle.Txs[0].Steps = append(bundle.Txs[0].Steps,
		domain.Step{
			Kind: domain.StepSwap, Gas: 120000,
			Pool: poolAB, TokenIn: usdc, TokenOut: weth,
			AmountIn: big.NewInt(2000),
		},
		domain.Step{Kind: domain.StepFlashRepay, Gas: 30000, Token: weth, Amount: big.NewInt(1000), FeeBps: 9},
	)
	res = sim.Simulate(bundle, snap, pc.View(), pt.View())
	if !res.Success {
		t.Fatalf("repaid flash loan reverted: %s", res.RevertReason)
	}
}

func TestSimulate_Liquidation(t *testing.T) {
	pc, pt, snap := fixtures(t)
	borrower := common.HexToAddress("0xb0b")
	pt.Apply(domain.BlockDiff{
		Snapshot: domain.ChainSnapshot{Number: 100},
		Positions: []domain.PositionUpdate{{
			Protocol:   "aave",
			Borrower:   borrower,
			Collateral: []domain.AssetAmount{{Token: weth, Amount: big.NewInt(1000), Weight: 1.0}},
			Debt:       []domain.AssetAmount{{Token: usdc, Amount: big.NewInt(900), Weight: 1.0}},
		}},
	})

	sim := New(slog.Default())
	bundle := domain.Bundle{
		TargetBlock: 101,
		Txs: []domain.BundleTx{{
			BaseGas: 21000,
			Steps: []domain.Step{{
				Kind: domain.StepLiquidate, Gas: 300000,
				Protocol: "aave", Borrower: borrower,
				DebtToken: usdc, RepayAmount: big.NewInt(450),
				SeizeToken: weth, SeizeAmount: big.NewInt(472), // repay * 1.05 bonus
			}},
		}},
	}
	res := sim.Simulate(bundle, snap, pc.View(), pt.View())
	if !res.Success {
		t.Fatalf("liquidation reverted: %s", res.RevertReason)
	}
	if res.TokenDeltas[weth].Int64() != 472 || res.TokenDeltas[usdc].Int64() != -450 {
		t.Errorf("deltas = (weth %s, usdc %s), want (472, -450)",
			res.TokenDeltas[weth], res.TokenDeltas[usdc])
	}

	// Seizing more than the collateral reverts.
	bundle.Txs[0].Steps[0].SeizeAmount = big.NewInt(2000)
	res = sim.Simulate(bundle, snap, pc.View(), pt.View())
	if res.Success {
		t.Fatal("over-seize should revert")
	}
}

func TestSimulate_TargetBlockPassed(t *testing.T) {
	pc, pt, _ := fixtures(t)
	sim := New(slog.Default())

	res := sim.Simulate(swapBundle(0), domain.ChainSnapshot{Number: 500}, pc.View(), pt.View())
	if res.Success {
		t.Fatal("bundle past its target block should revert")
	}
}
