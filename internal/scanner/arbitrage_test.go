package scanner

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

var (
	tokenX = common.HexToAddress("0x0a")
	tokenY = common.HexToAddress("0x0b")
	tokenZ = common.HexToAddress("0x0c")

	poolXY = common.HexToAddress("0x01")
	poolYZ = common.HexToAddress("0x02")
	poolZX = common.HexToAddress("0x03")
)

const scale = 1_000_000

// triangularView builds the three-pool cycle with reserve pairs (100,100),
// (95,100) and (100,105), scaled to keep integer math meaningful. Walking
// X -> Y -> Z -> X multiplies the hop prices 1.0 * 1.0526 * 1.05, enough to
// clear three 0.3% fees.
func triangularView(t *testing.T) *state.PoolView {
	t.Helper()
	cp := func(addr, t0, t1 common.Address, r0, r1 int64) domain.PoolState {
		return domain.PoolState{
			Address:  addr,
			Kind:     domain.PoolConstantProduct,
			Token0:   t0,
			Token1:   t1,
			FeeBps:   30,
			Reserve0: big.NewInt(r0 * scale),
			Reserve1: big.NewInt(r1 * scale),
		}
	}
	cache := state.NewPoolCache([]domain.PoolState{
		cp(poolXY, tokenX, tokenY, 100, 100),
		cp(poolYZ, tokenY, tokenZ, 95, 100),
		cp(poolZX, tokenZ, tokenX, 100, 105),
	}, slog.Default())
	return cache.View()
}

func arbConfig() ArbitrageConfig {
	cfg := DefaultArbitrageConfig()
	cfg.ProbeAmounts = []*big.Int{big.NewInt(1 * scale)}
	return cfg
}

func TestArbitrage_TriangularCycleDetected(t *testing.T) {
	s := NewArbitrageScanner(arbConfig(), nil, slog.Default())
	snap := domain.ChainSnapshot{Number: 100, BaseFee: big.NewInt(20)}

	opps, err := s.OnBlock(context.Background(), snap, triangularView(t), nil)
	if err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("got %d candidates, want exactly 1 (one profitable direction)", len(opps))
	}

	opp := opps[0]
	if opp.Strategy != domain.StrategyArbitrage {
		t.Errorf("strategy = %s", opp.Strategy)
	}
	if opp.GrossRevenue.Sign() <= 0 {
		t.Errorf("gross revenue = %s, want positive", opp.GrossRevenue)
	}
	if len(opp.Bundle.Txs) != 1 || len(opp.Bundle.Txs[0].Steps) != 3 {
		t.Fatalf("bundle should hold one tx with three swap hops, got %+v", opp.Bundle)
	}
	last := opp.Bundle.Txs[0].Steps[2]
	if last.MinAmountOut == nil || last.MinAmountOut.Cmp(big.NewInt(1*scale)) < 0 {
		t.Errorf("final hop floor = %v, want at least the input", last.MinAmountOut)
	}
	if opp.SnapshotBlock != 100 || opp.ValidUntil <= opp.ValidFrom {
		t.Errorf("validity window wrong: from %d until %d", opp.ValidFrom, opp.ValidUntil)
	}
}

func TestArbitrage_CycleKeyRotationInvariant(t *testing.T) {
	a := cycleKey([]common.Address{poolXY, poolYZ, poolZX})
	b := cycleKey([]common.Address{poolYZ, poolZX, poolXY})
	c := cycleKey([]common.Address{poolZX, poolXY, poolYZ})
	if a != b || b != c {
		t.Errorf("rotations of one cycle produced distinct keys: %s %s %s", a, b, c)
	}

	other := cycleKey([]common.Address{poolXY, poolZX, poolYZ})
	if other == a {
		t.Error("reversed traversal should be a distinct candidate")
	}
}

func TestArbitrage_LiveKeySuppressed(t *testing.T) {
	live := func(string) bool { return true }
	s := NewArbitrageScanner(arbConfig(), live, slog.Default())
	snap := domain.ChainSnapshot{Number: 100}

	opps, err := s.OnBlock(context.Background(), snap, triangularView(t), nil)
	if err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("got %d candidates, want 0 while key is live", len(opps))
	}
}

func TestArbitrage_BalancedPoolsQuiet(t *testing.T) {
	cp := func(addr, t0, t1 common.Address) domain.PoolState {
		return domain.PoolState{
			Address:  addr,
			Kind:     domain.PoolConstantProduct,
			Token0:   t0,
			Token1:   t1,
			FeeBps:   30,
			Reserve0: big.NewInt(100 * scale),
			Reserve1: big.NewInt(100 * scale),
		}
	}
	cache := state.NewPoolCache([]domain.PoolState{
		cp(poolXY, tokenX, tokenY),
		cp(poolYZ, tokenY, tokenZ),
		cp(poolZX, tokenZ, tokenX),
	}, slog.Default())

	s := NewArbitrageScanner(arbConfig(), nil, slog.Default())
	opps, err := s.OnBlock(context.Background(), domain.ChainSnapshot{Number: 1}, cache.View(), nil)
	if err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("balanced pools produced %d candidates, want 0", len(opps))
	}
}

func TestArbitrage_ZeroReserveSkipped(t *testing.T) {
	cache := state.NewPoolCache([]domain.PoolState{
		{
			Address: poolXY, Kind: domain.PoolConstantProduct,
			Token0: tokenX, Token1: tokenY, FeeBps: 30,
			Reserve0: big.NewInt(0), Reserve1: big.NewInt(100 * scale),
		},
		{
			Address: poolYZ, Kind: domain.PoolConstantProduct,
			Token0: tokenY, Token1: tokenX, FeeBps: 30,
			Reserve0: big.NewInt(100 * scale), Reserve1: big.NewInt(100 * scale),
		},
	}, slog.Default())

	s := NewArbitrageScanner(arbConfig(), nil, slog.Default())
	opps, err := s.OnBlock(context.Background(), domain.ChainSnapshot{Number: 1}, cache.View(), nil)
	if err != nil {
		t.Fatalf("OnBlock: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("drained pool produced %d candidates, want 0", len(opps))
	}
}
