package state

import (
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

var (
	poolA = common.HexToAddress("0xaa01")
	tokX  = common.HexToAddress("0x01")
	tokY  = common.HexToAddress("0x02")
)

func seedPools() []domain.PoolState {
	return []domain.PoolState{{
		Address:  poolA,
		Kind:     domain.PoolConstantProduct,
		Token0:   tokX,
		Token1:   tokY,
		FeeBps:   30,
		Reserve0: big.NewInt(0),
		Reserve1: big.NewInt(0),
	}}
}

func diffAt(block uint64, r0, r1 int64) domain.BlockDiff {
	return domain.BlockDiff{
		Snapshot: domain.ChainSnapshot{Number: block},
		Pools: []domain.PoolUpdate{{
			Pool:     poolA,
			Reserve0: big.NewInt(r0),
			Reserve1: big.NewInt(r1),
		}},
	}
}

func TestPoolCache_ApplyAndRead(t *testing.T) {
	c := NewPoolCache(seedPools(), slog.Default())
	c.Apply(diffAt(100, 1000, 2000))

	v := c.View()
	if v.Block() != 100 {
		t.Fatalf("view block = %d, want 100", v.Block())
	}
	p, ok := v.Get(poolA)
	if !ok {
		t.Fatal("pool not found in view")
	}
	if p.Reserve0.Int64() != 1000 || p.Reserve1.Int64() != 2000 {
		t.Errorf("reserves = (%s, %s), want (1000, 2000)", p.Reserve0, p.Reserve1)
	}

	// Mutating the returned copy must not leak into the cache.
	p.Reserve0.SetInt64(7)
	p2, _ := c.View().Get(poolA)
	if p2.Reserve0.Int64() != 1000 {
		t.Error("reader mutation leaked into committed state")
	}
}

func TestPoolCache_ViewIsStableAcrossUpdates(t *testing.T) {
	c := NewPoolCache(seedPools(), slog.Default())
	c.Apply(diffAt(100, 1000, 2000))

	v := c.View()
	c.Apply(diffAt(101, 1100, 1900))

	// The old view still reads the old state in full.
	p, _ := v.Get(poolA)
	if p.Reserve0.Int64() != 1000 {
		t.Errorf("old view reserve0 = %s, want 1000", p.Reserve0)
	}
	p, _ = c.View().Get(poolA)
	if p.Reserve0.Int64() != 1100 {
		t.Errorf("new view reserve0 = %s, want 1100", p.Reserve0)
	}
}

func TestPoolCache_ReorgBumpsGenerationAndRewinds(t *testing.T) {
	c := NewPoolCache(seedPools(), slog.Default())
	c.Apply(diffAt(100, 1000, 2000))
	c.Apply(diffAt(101, 1100, 1900))

	if gen := c.View().Generation(); gen != 0 {
		t.Fatalf("generation = %d before reorg, want 0", gen)
	}

	// Replacement block at height 101.
	c.Apply(diffAt(101, 5000, 5000))

	v := c.View()
	if v.Generation() != 1 {
		t.Errorf("generation = %d after reorg, want 1", v.Generation())
	}
	p, _ := v.Get(poolA)
	if p.Reserve0.Int64() != 5000 {
		t.Errorf("post-reorg reserve0 = %s, want 5000", p.Reserve0)
	}
}

func TestPoolCache_NoTornReads(t *testing.T) {
	c := NewPoolCache(seedPools(), slog.Default())
	c.Apply(diffAt(1, 10, 10))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := uint64(2); b < 500; b++ {
			// Reserves always committed equal; a torn read would differ.
			c.Apply(diffAt(b, int64(b)*10, int64(b)*10))
		}
		close(stop)
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, ok := c.View().Get(poolA)
				if !ok {
					t.Error("pool missing mid-update")
					return
				}
				if p.Reserve0.Cmp(p.Reserve1) != 0 {
					t.Errorf("torn read: reserves (%s, %s)", p.Reserve0, p.Reserve1)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPositionTracker_ApplyCloseAndReorg(t *testing.T) {
	borrower := common.HexToAddress("0xb0b")
	tr := NewPositionTracker(nil, slog.Default())

	open := domain.BlockDiff{
		Snapshot: domain.ChainSnapshot{Number: 50},
		Positions: []domain.PositionUpdate{{
			Protocol: "aave",
			Borrower: borrower,
			Collateral: []domain.AssetAmount{
				{Token: tokX, Amount: big.NewInt(150), Weight: 1.0},
			},
			Debt: []domain.AssetAmount{
				{Token: tokY, Amount: big.NewInt(140), Weight: 1.0},
			},
		}},
	}
	tr.Apply(open)

	key := "aave:" + borrower.Hex()
	p, ok := tr.View().Get(key)
	if !ok {
		t.Fatal("position not tracked after apply")
	}
	if p.LiquidationThreshold != 1.0 {
		t.Errorf("default threshold = %v, want 1.0", p.LiquidationThreshold)
	}

	// Close the position.
	tr.Apply(domain.BlockDiff{
		Snapshot:  domain.ChainSnapshot{Number: 51},
		Positions: []domain.PositionUpdate{{Protocol: "aave", Borrower: borrower}},
	})
	if _, ok := tr.View().Get(key); ok {
		t.Error("closed position still tracked")
	}

	// Reorg back to 51 re-opens it from the replacement diff.
	reopen := open
	reopen.Snapshot.Number = 51
	tr.Apply(reopen)
	if tr.View().Generation() != 1 {
		t.Errorf("generation = %d after reorg, want 1", tr.View().Generation())
	}
	if _, ok := tr.View().Get(key); !ok {
		t.Error("position missing after reorg replacement diff")
	}
}
