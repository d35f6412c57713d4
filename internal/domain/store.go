package domain

import (
	"context"
	"time"
)

// OpportunityStore persists the history of scored opportunities and their
// resolutions.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkResolved(ctx context.Context, id string, outcome ResolveOutcome) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	// ListBefore returns resolved opportunities created strictly before the
	// cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	// DeleteBefore removes resolved opportunities created strictly before
	// the cutoff, after a successful archive.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
