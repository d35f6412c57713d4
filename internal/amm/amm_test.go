package amm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

func wei(n int64) *big.Int { return big.NewInt(n) }

func testPool(t *testing.T) domain.PoolState {
	t.Helper()
	return domain.PoolState{
		Address:  common.HexToAddress("0x01"),
		Kind:     domain.PoolConstantProduct,
		Token0:   common.HexToAddress("0xa0"),
		Token1:   common.HexToAddress("0xb0"),
		FeeBps:   30,
		Reserve0: wei(100_000),
		Reserve1: wei(100_000),
	}
}

func TestConstantProductOut_KnownValue(t *testing.T) {
	// 10 in against (1000, 1000) with 30 bps fee:
	// out = 10*9970*1000 / (1000*10000 + 10*9970) = 99700000/10099700 = 9.87...
	out, err := ConstantProductOut(wei(10), wei(1000), wei(1000), 30)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if out.Cmp(wei(9)) != 0 {
		t.Errorf("expected 9 (truncated), got %s", out)
	}
}

func TestConstantProductOut_MonotonicAndBounded(t *testing.T) {
	rIn := new(big.Int).Mul(wei(100), big.NewInt(1e18))
	rOut := new(big.Int).Mul(wei(95), big.NewInt(1e18))

	prev := new(big.Int)
	in := big.NewInt(1e15)
	for i := 0; i < 60; i++ {
		out, err := ConstantProductOut(in, rIn, rOut, 30)
		if err != nil {
			t.Fatalf("quote failed at in=%s: %v", in, err)
		}
		if out.Cmp(prev) <= 0 {
			t.Fatalf("output not monotonic increasing: in=%s out=%s prev=%s", in, out, prev)
		}
		if out.Cmp(rOut) >= 0 {
			t.Fatalf("output %s not below reserve %s", out, rOut)
		}
		prev = out
		in = new(big.Int).Mul(in, big.NewInt(2))
	}
}

func TestConstantProductOut_ZeroReserves(t *testing.T) {
	if _, err := ConstantProductOut(wei(10), wei(0), wei(1000), 30); err != ErrZeroReserve {
		t.Errorf("expected ErrZeroReserve, got %v", err)
	}
	if _, err := ConstantProductOut(wei(10), wei(1000), wei(0), 30); err != ErrZeroReserve {
		t.Errorf("expected ErrZeroReserve, got %v", err)
	}
	if _, err := ConstantProductOut(wei(0), wei(1000), wei(1000), 30); err != ErrBadAmount {
		t.Errorf("expected ErrBadAmount, got %v", err)
	}
}

func TestStableSwapOut_NearParity(t *testing.T) {
	// A balanced, highly amplified pool should quote close to 1:1 for a
	// small trade, and strictly better than constant product.
	r := new(big.Int).Mul(wei(1_000_000), big.NewInt(1e6))
	in := new(big.Int).Mul(wei(1000), big.NewInt(1e6))

	stable, err := StableSwapOut(in, r, r, 200, 4)
	if err != nil {
		t.Fatalf("stable quote failed: %v", err)
	}
	cp, err := ConstantProductOut(in, r, r, 4)
	if err != nil {
		t.Fatalf("cp quote failed: %v", err)
	}
	if stable.Cmp(cp) <= 0 {
		t.Errorf("stable swap %s should beat constant product %s on a balanced pool", stable, cp)
	}

	// Within 0.1% of parity after the 4 bps fee.
	lo := new(big.Int).Mul(in, big.NewInt(999))
	lo.Quo(lo, big.NewInt(1000))
	if stable.Cmp(lo) < 0 || stable.Cmp(in) > 0 {
		t.Errorf("stable quote %s outside [%s, %s]", stable, lo, in)
	}
}

func TestStableSwapOut_Monotonic(t *testing.T) {
	r := new(big.Int).Mul(wei(1_000_000), big.NewInt(1e6))
	prev := new(big.Int)
	in := big.NewInt(1e6)
	for i := 0; i < 12; i++ {
		out, err := StableSwapOut(in, r, r, 100, 4)
		if err != nil {
			t.Fatalf("quote failed at in=%s: %v", in, err)
		}
		if out.Cmp(prev) <= 0 {
			t.Fatalf("stable output not monotonic: in=%s out=%s prev=%s", in, out, prev)
		}
		if out.Cmp(r) >= 0 {
			t.Fatalf("stable output %s not below reserve %s", out, r)
		}
		prev = out
		in = new(big.Int).Mul(in, big.NewInt(4))
	}
}

func TestConcentratedOut_RoundTripLoses(t *testing.T) {
	sqrtP := new(big.Int).Set(q96) // price 1.0
	liq := new(big.Int).Mul(wei(1000), big.NewInt(1e18))
	in := new(big.Int).Mul(wei(1), big.NewInt(1e18))

	out1, err := ConcentratedOut(in, sqrtP, liq, 30, true)
	if err != nil {
		t.Fatalf("zeroForOne quote failed: %v", err)
	}
	back, err := ConcentratedOut(out1, sqrtP, liq, 30, false)
	if err != nil {
		t.Fatalf("oneForZero quote failed: %v", err)
	}
	if back.Cmp(in) >= 0 {
		t.Errorf("round trip should lose to fees: in=%s back=%s", in, back)
	}
}

func TestQuote_DispatchesOnKind(t *testing.T) {
	pool := testPool(t)
	out, err := Quote(pool, pool.Token0, wei(10))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	want, _ := ConstantProductOut(wei(10), pool.Reserve0, pool.Reserve1, pool.FeeBps)
	if out.Cmp(want) != 0 {
		t.Errorf("dispatch mismatch: got %s want %s", out, want)
	}

	if _, err := Quote(pool, common.HexToAddress("0xff"), wei(10)); err != ErrTokenNotInPool {
		t.Errorf("expected ErrTokenNotInPool, got %v", err)
	}
}
