package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// Archiver moves resolved opportunity history past the retention window from
// the database to blob cold storage.
type Archiver struct {
	store         domain.OpportunityStore
	blob          domain.BlobWriter
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(store domain.OpportunityStore, blob domain.BlobWriter, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Archiver{
		store:         store,
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// archivedOpportunity is the JSON row written to cold storage.
type archivedOpportunity struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Strategy   string    `json:"strategy"`
	Block      uint64    `json:"block"`
	NetProfit  string    `json:"net_profit"`
	GasUsed    uint64    `json:"gas_used"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Run executes a single archive pass: rows older than the retention cutoff
// are uploaded as one JSON object and then deleted.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)

	opps, err := a.store.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing history before %v: %w", cutoff, err)
	}
	if len(opps) == 0 {
		a.logger.Debug("nothing to archive", slog.Time("cutoff", cutoff))
		return nil
	}

	rows := make([]archivedOpportunity, len(opps))
	for i, opp := range opps {
		rows[i] = archivedOpportunity{
			ID:         opp.ID,
			Key:        opp.Key,
			Strategy:   string(opp.Strategy),
			Block:      opp.SnapshotBlock,
			GasUsed:    opp.GasUsed,
			Confidence: opp.Confidence,
			Status:     string(opp.Status),
			CreatedAt:  opp.CreatedAt,
		}
		if opp.NetProfit != nil {
			rows[i].NetProfit = opp.NetProfit.String()
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding archive batch: %w", err)
	}

	path := fmt.Sprintf("opportunities/%s.json", time.Now().UTC().Format("2006/01/02/150405"))
	if err := a.blob.Put(ctx, path, data, "application/json"); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}

	deleted, err := a.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning history before %v: %w", cutoff, err)
	}

	a.logger.Info("archive pass complete",
		slog.String("path", path),
		slog.Int("archived", len(opps)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

// RunLoop runs an archive pass on the given interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	a.logger.Info("archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
