// Package queue implements the concurrency-safe opportunity queue that
// orders scored candidates by profit-per-gas and enforces the per-key
// lifecycle: idempotent enqueue with higher-profit replacement, lazy and
// eager expiry, and an at-most-one-in-flight guarantee per key until the
// dispatcher resolves the entry.
package queue

import (
	"container/heap"
	"log/slog"
	"sync"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// Queue is safe for concurrent use by scanners, the simulation pool and the
// dispatcher; all mutations are serialized internally.
type Queue struct {
	mu        sync.Mutex
	entries   oppHeap
	byKey     map[string]*entry
	inflight  map[string]domain.Opportunity
	lastBlock uint64
	capacity  int
	logger    *slog.Logger
}

type entry struct {
	opp   domain.Opportunity
	index int
}

// New creates a Queue. capacity <= 0 means unbounded.
func New(capacity int, logger *slog.Logger) *Queue {
	return &Queue{
		byKey:    make(map[string]*entry),
		inflight: make(map[string]domain.Opportunity),
		capacity: capacity,
		logger:   logger.With(slog.String("component", "opportunity_queue")),
	}
}

// Enqueue inserts a scored opportunity. It is idempotent on key: a re-enqueue
// with a higher net profit replaces the existing entry and a lower one is
// dropped (accepted=false, nil error). Enqueueing a key that is currently
// dispatched returns domain.ErrKeyInFlight until Resolve is called.
func (q *Queue) Enqueue(opp domain.Opportunity) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opp.Expired(q.lastBlock) {
		return false, domain.ErrExpired
	}
	if _, ok := q.inflight[opp.Key]; ok {
		return false, domain.ErrKeyInFlight
	}

	if cur, ok := q.byKey[opp.Key]; ok {
		if opp.NetProfit == nil || cur.opp.NetProfit == nil || opp.NetProfit.Cmp(cur.opp.NetProfit) <= 0 {
			q.logger.Debug("enqueue dropped, existing entry has higher profit",
				slog.String("key", opp.Key),
			)
			return false, nil
		}
		cur.opp = withStatus(opp, domain.OppQueued)
		heap.Fix(&q.entries, cur.index)
		q.logger.Debug("queued entry replaced by higher profit",
			slog.String("key", opp.Key),
			slog.String("net_profit", opp.NetProfit.String()),
		)
		return true, nil
	}

	if q.capacity > 0 && q.entries.Len() >= q.capacity {
		// Evict the worst entry if the newcomer beats it, otherwise refuse.
		worst := q.entries.worst()
		if worst == nil || opp.ProfitPerGasCmp(worst.opp) <= 0 {
			return false, domain.ErrQueueFull
		}
		heap.Remove(&q.entries, worst.index)
		delete(q.byKey, worst.opp.Key)
	}

	e := &entry{opp: withStatus(opp, domain.OppQueued)}
	heap.Push(&q.entries, e)
	q.byKey[opp.Key] = e
	return true, nil
}

// Dequeue returns the highest profit-per-gas entry still inside its validity
// window and marks its key in flight. Expired entries encountered on the way
// are evicted lazily. ok is false when the queue holds no live entry.
func (q *Queue) Dequeue() (domain.Opportunity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.entries.Len() > 0 {
		e := heap.Pop(&q.entries).(*entry)
		delete(q.byKey, e.opp.Key)
		if e.opp.Expired(q.lastBlock) {
			q.logger.Debug("evicted expired entry on dequeue",
				slog.String("key", e.opp.Key),
				slog.Uint64("valid_until", e.opp.ValidUntil),
			)
			continue
		}
		opp := withStatus(e.opp, domain.OppDispatched)
		q.inflight[opp.Key] = opp
		return opp, true
	}
	return domain.Opportunity{}, false
}

// Resolve releases the in-flight lock for a key after the dispatcher reports
// the outcome. Unknown keys return domain.ErrNotFound.
func (q *Queue) Resolve(key string, outcome domain.ResolveOutcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[key]; !ok {
		return domain.ErrNotFound
	}
	delete(q.inflight, key)
	q.logger.Debug("in-flight entry resolved",
		slog.String("key", key),
		slog.String("outcome", string(outcome)),
	)
	return nil
}

// OnBlock advances the queue's notion of the chain head and eagerly evicts
// every entry whose validity window has closed.
func (q *Queue) OnBlock(block uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if block > q.lastBlock {
		q.lastBlock = block
	}

	var evicted int
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.opp.Expired(q.lastBlock) {
			delete(q.byKey, e.opp.Key)
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	if evicted > 0 {
		q.entries = kept
		for i, e := range q.entries {
			e.index = i
		}
		heap.Init(&q.entries)
		q.logger.Debug("eagerly evicted expired entries",
			slog.Uint64("block", q.lastBlock),
			slog.Int("evicted", evicted),
		)
	}
}

// OnReorg discards every queued entry priced at or above the fork block and
// rewinds the expiry clock to the new head. Entries detected on the orphaned
// branch carry reserves that no longer exist; the scanners re-detect anything
// still real on the canonical branch. In-flight entries are left to the
// dispatcher's Resolve. It returns the number of entries purged.
func (q *Queue) OnReorg(fork uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastBlock = fork

	var purged int
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.opp.SnapshotBlock >= fork {
			delete(q.byKey, e.opp.Key)
			purged++
			continue
		}
		kept = append(kept, e)
	}
	if purged > 0 {
		q.entries = kept
		for i, e := range q.entries {
			e.index = i
		}
		heap.Init(&q.entries)
		q.logger.Warn("purged entries priced on orphaned branch",
			slog.Uint64("fork_block", fork),
			slog.Int("purged", purged),
		)
	}
	return purged
}

// Invalidate removes a queued entry whose premise no longer holds, such as a
// watched pending transaction that mined or was replaced. In-flight entries
// are left to the dispatcher's Resolve. It reports whether an entry was
// removed.
func (q *Queue) Invalidate(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.entries, e.index)
	delete(q.byKey, key)
	q.logger.Debug("queued entry invalidated", slog.String("key", key))
	return true
}

// Live reports whether the key is currently queued or in flight. Scanners
// use it to suppress re-emission of still-valid candidates.
func (q *Queue) Live(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[key]; ok {
		return true
	}
	_, ok := q.byKey[key]
	return ok
}

// Len returns the number of queued (not in-flight) entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// InFlight returns the number of dispatched, unresolved entries.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Snapshot returns copies of all queued entries in heap order, for the
// status endpoint.
func (q *Queue) Snapshot() []domain.Opportunity {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Opportunity, 0, q.entries.Len())
	for _, e := range q.entries {
		out = append(out, e.opp)
	}
	return out
}

func withStatus(opp domain.Opportunity, s domain.OpportunityStatus) domain.Opportunity {
	opp.Status = s
	return opp
}

// oppHeap is a max-heap on profit-per-gas with a deterministic tie-break on
// earliest creation time.
type oppHeap []*entry

func (h oppHeap) Len() int { return len(h) }

func (h oppHeap) Less(i, j int) bool {
	if c := h[i].opp.ProfitPerGasCmp(h[j].opp); c != 0 {
		return c > 0
	}
	return h[i].opp.CreatedAt.Before(h[j].opp.CreatedAt)
}

func (h oppHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *oppHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *oppHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// worst returns the lowest-ranked entry by linear scan. Only used on the
// capacity path, which is rare.
func (h oppHeap) worst() *entry {
	if len(h) == 0 {
		return nil
	}
	w := h[0]
	for _, e := range h[1:] {
		if e.opp.ProfitPerGasCmp(w.opp) < 0 {
			w = e
		}
	}
	return w
}
