package queue

import (
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

func opp(key string, profit int64, gasUsed uint64, validUntil uint64) domain.Opportunity {
	return domain.Opportunity{
		ID:         key + "-id",
		Key:        key,
		Strategy:   domain.StrategyArbitrage,
		NetProfit:  big.NewInt(profit),
		GasUsed:    gasUsed,
		ValidUntil: validUntil,
		CreatedAt:  time.Now(),
		Status:     domain.OppScored,
	}
}

func TestEnqueue_KeyIdempotence(t *testing.T) {
	q := New(0, slog.Default())

	if ok, err := q.Enqueue(opp("a", 100, 10, 50)); !ok || err != nil {
		t.Fatalf("first enqueue: ok=%v err=%v", ok, err)
	}
	// Lower profit on the same key is dropped.
	if ok, err := q.Enqueue(opp("a", 90, 10, 50)); ok || err != nil {
		t.Fatalf("lower-profit enqueue: ok=%v err=%v, want dropped", ok, err)
	}
	// Higher profit replaces.
	if ok, err := q.Enqueue(opp("a", 200, 10, 50)); !ok || err != nil {
		t.Fatalf("higher-profit enqueue: ok=%v err=%v", ok, err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}

	got, ok := q.Dequeue()
	if !ok {
		t.Fatal("dequeue returned no entry")
	}
	if got.NetProfit.Int64() != 200 {
		t.Errorf("dequeued profit = %s, want 200", got.NetProfit)
	}
}

func TestDequeue_MaxProfitPerGas(t *testing.T) {
	q := New(0, slog.Default())
	// b has the best profit-per-gas: 50/5 > 200/25 > 100/20.
	q.Enqueue(opp("a", 100, 20, 50))
	q.Enqueue(opp("b", 50, 5, 50))
	q.Enqueue(opp("c", 200, 25, 50))

	order := []string{"b", "c", "a"}
	for _, want := range order {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue exhausted before %q", want)
		}
		if got.Key != want {
			t.Errorf("dequeue order: got %q, want %q", got.Key, want)
		}
		if err := q.Resolve(got.Key, domain.OutcomeDispatched); err != nil {
			t.Fatalf("resolve %q: %v", got.Key, err)
		}
	}
}

func TestDequeue_TieBreakEarliestCreation(t *testing.T) {
	q := New(0, slog.Default())
	early := opp("early", 100, 10, 50)
	early.CreatedAt = time.Unix(1000, 0)
	late := opp("late", 100, 10, 50)
	late.CreatedAt = time.Unix(2000, 0)

	q.Enqueue(late)
	q.Enqueue(early)

	got, _ := q.Dequeue()
	if got.Key != "early" {
		t.Errorf("tie-break picked %q, want earliest creation", got.Key)
	}
}

func TestInFlight_AtMostOnePerKey(t *testing.T) {
	q := New(0, slog.Default())
	q.Enqueue(opp("a", 100, 10, 50))

	got, ok := q.Dequeue()
	if !ok || got.Status != domain.OppDispatched {
		t.Fatalf("dequeue: ok=%v status=%s", ok, got.Status)
	}

	// Re-enqueue of a dispatched key is rejected until resolve.
	if _, err := q.Enqueue(opp("a", 500, 10, 50)); !errors.Is(err, domain.ErrKeyInFlight) {
		t.Fatalf("enqueue of in-flight key: err=%v, want ErrKeyInFlight", err)
	}

	if err := q.Resolve("a", domain.OutcomeRejected); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ok, err := q.Enqueue(opp("a", 500, 10, 50)); !ok || err != nil {
		t.Fatalf("enqueue after resolve: ok=%v err=%v", ok, err)
	}

	if err := q.Resolve("a", domain.OutcomeRejected); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double resolve: err=%v, want ErrNotFound", err)
	}
}

func TestExpiry_LazyAndEager(t *testing.T) {
	q := New(0, slog.Default())
	q.Enqueue(opp("short", 1000, 1, 10))
	q.Enqueue(opp("long", 10, 10, 100))

	// Past block 10 the short entry is dead; lazy eviction on dequeue.
	q.OnBlock(11)
	got, ok := q.Dequeue()
	if !ok || got.Key != "long" {
		t.Fatalf("dequeue after expiry: got %q ok=%v, want long", got.Key, ok)
	}
	q.Resolve("long", domain.OutcomeDispatched)

	// Eager eviction on new block.
	q.Enqueue(opp("short2", 1000, 1, 20))
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	q.OnBlock(21)
	if q.Len() != 0 {
		t.Errorf("len = %d after eager eviction, want 0", q.Len())
	}

	// Enqueueing an already-expired opportunity is refused outright.
	if _, err := q.Enqueue(opp("dead", 10, 1, 15)); !errors.Is(err, domain.ErrExpired) {
		t.Errorf("expired enqueue: err=%v, want ErrExpired", err)
	}
}

func TestOnReorg_PurgesOrphanedBranch(t *testing.T) {
	q := New(0, slog.Default())

	old := opp("old", 100, 10, 200)
	old.SnapshotBlock = 90
	orphaned := opp("orphaned", 500, 10, 200)
	orphaned.SnapshotBlock = 100
	q.Enqueue(old)
	q.Enqueue(orphaned)
	q.OnBlock(100)

	// Fork at 95: everything priced at or above it was detected on the dead
	// branch and must go, regardless of profit rank.
	if purged := q.OnReorg(95); purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if q.Live("orphaned") {
		t.Error("entry priced on the orphaned branch survived the reorg")
	}
	if !q.Live("old") {
		t.Error("entry priced below the fork should survive")
	}

	// The expiry clock rewinds with the head: a window closing at 96 is live
	// again after the fork to 95.
	if ok, err := q.Enqueue(opp("short", 10, 1, 96)); !ok || err != nil {
		t.Errorf("post-reorg enqueue: ok=%v err=%v", ok, err)
	}
}

func TestCapacity_EvictsWorstOrRefuses(t *testing.T) {
	q := New(2, slog.Default())
	q.Enqueue(opp("a", 100, 10, 50)) // ppg 10
	q.Enqueue(opp("b", 50, 10, 50))  // ppg 5

	// Worse than everything: refused.
	if _, err := q.Enqueue(opp("c", 10, 10, 50)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("worst enqueue at capacity: err=%v, want ErrQueueFull", err)
	}
	// Better than the worst: replaces it.
	if ok, err := q.Enqueue(opp("d", 80, 10, 50)); !ok || err != nil {
		t.Fatalf("better enqueue at capacity: ok=%v err=%v", ok, err)
	}
	if q.Live("b") {
		t.Error("worst entry should have been evicted")
	}
	if !q.Live("a") || !q.Live("d") {
		t.Error("surviving entries missing")
	}
}
