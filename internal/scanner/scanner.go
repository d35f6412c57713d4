// Package scanner provides the detection strategies that turn committed chain
// state and mempool observations into candidate opportunities, plus the
// registry they are selected from by config.
package scanner

import (
	"context"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// Scanner is one detection strategy. Implementations receive snapshot-
// consistent read access to the state caches and must never retain or mutate
// the views they are handed.
type Scanner interface {
	Name() string
	Kind() domain.StrategyKind
	// OnBlock inspects the committed state at a new head and returns zero or
	// more candidates. Candidates for keys the queue already holds live are
	// suppressed by the scanner itself.
	OnBlock(ctx context.Context, snap domain.ChainSnapshot, pools *state.PoolView, positions *state.PositionView) ([]domain.Opportunity, error)
	// OnPendingTx inspects one mempool observation. Scanners that only react
	// to confirmed blocks return nil.
	OnPendingTx(ctx context.Context, tx domain.PendingTransaction, snap domain.ChainSnapshot) ([]domain.Opportunity, error)
}

// LiveFunc reports whether an opportunity key is currently queued or in
// flight; scanners use it to suppress re-emission of still-valid candidates.
type LiveFunc func(key string) bool
