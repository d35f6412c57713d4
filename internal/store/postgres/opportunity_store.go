package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, key, strategy, snapshot_block, valid_from, valid_until,
	gross_revenue, gas_cost, net_profit, gas_used, flash_borrowed,
	confidence, urgency, status, created_at`

// weiString renders a big.Int for a TEXT column, nil for a NULL cell. Wei
// amounts overflow every native integer type, so they travel as decimal
// strings.
func weiString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseWei(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		var (
			o                         domain.Opportunity
			gross, cost, net, borrowed *string
			urgency                   int16
		)
		if err := rows.Scan(
			&o.ID, &o.Key, &o.Strategy, &o.SnapshotBlock, &o.ValidFrom, &o.ValidUntil,
			&gross, &cost, &net, &o.GasUsed, &borrowed,
			&o.Confidence, &urgency, &o.Status, &o.CreatedAt,
		); err != nil {
			return nil, err
		}
		o.GrossRevenue = parseWei(gross)
		o.GasCost = parseWei(cost)
		o.NetProfit = parseWei(net)
		o.FlashBorrowed = parseWei(borrowed)
		o.Urgency = domain.Urgency(urgency)
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Insert records a queued opportunity. Re-inserting the same ID updates the
// scored fields, which happens when a key is re-detected with better profit.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, key, strategy, snapshot_block, valid_from, valid_until,
			gross_revenue, gas_cost, net_profit, gas_used, flash_borrowed,
			confidence, urgency, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO UPDATE SET
			gross_revenue = EXCLUDED.gross_revenue,
			gas_cost = EXCLUDED.gas_cost,
			net_profit = EXCLUDED.net_profit,
			gas_used = EXCLUDED.gas_used,
			confidence = EXCLUDED.confidence,
			status = EXCLUDED.status`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Key, opp.Strategy, opp.SnapshotBlock, opp.ValidFrom, opp.ValidUntil,
		weiString(opp.GrossRevenue), weiString(opp.GasCost), weiString(opp.NetProfit),
		opp.GasUsed, weiString(opp.FlashBorrowed),
		opp.Confidence, int16(opp.Urgency), opp.Status, opp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkResolved records the dispatcher's outcome for an opportunity.
func (s *OpportunityStore) MarkResolved(ctx context.Context, id string, outcome domain.ResolveOutcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET outcome = $2, resolved_at = NOW() WHERE id = $1`,
		id, string(outcome),
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve opportunity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + oppSelectCols + ` FROM opportunities ORDER BY created_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent opportunities: %w", err)
	}
	return opps, nil
}

// ListBefore returns resolved opportunities created strictly before the cutoff
// (for archiving). Unresolved rows stay in the hot table.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities
		WHERE created_at < $1 AND outcome IS NOT NULL
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// DeleteBefore deletes resolved opportunities created strictly before the
// cutoff. Returns the number deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM opportunities WHERE created_at < $1 AND outcome IS NOT NULL`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}
