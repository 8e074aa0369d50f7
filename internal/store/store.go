// Package store persists the priced catalog, the SCD Type-2 mapping memory,
// and the match-result audit log. Two backends: SQLite for single-node use
// and Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linden-group/costmatch-cli/internal/model"
)

// ErrMappingConflict is returned when a mapping write loses a race against a
// concurrent writer on the same (tenant, key). The active-row uniqueness
// constraint rejected the insert; callers re-read and decide, they never
// overwrite.
var ErrMappingConflict = eris.New("store: concurrent mapping write for key")

// ResultFilter narrows ListMatchResults.
type ResultFilter struct {
	TenantID string         `json:"tenant_id,omitempty"`
	ItemID   string         `json:"item_id,omitempty"`
	Decision model.Decision `json:"decision,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// Store is the persistence interface for the matching engine.
type Store interface {
	// Catalog
	UpsertPricedItems(ctx context.Context, items []model.PricedItem) (int, error)
	GetPricedItem(ctx context.Context, id string) (*model.PricedItem, error)
	// CandidatesByClass returns tenant-scoped catalog entries in the given
	// classification, ordered by SKU for stable downstream ranking.
	CandidatesByClass(ctx context.Context, tenantID, code string, limit int) ([]model.PricedItem, error)
	// CandidatesByClassPrefix serves the escape hatch: entries whose code
	// shares the prefix but differs from excludeCode.
	CandidatesByClassPrefix(ctx context.Context, tenantID, prefix, excludeCode string, limit int) ([]model.PricedItem, error)
	CatalogSize(ctx context.Context, tenantID string) (int, error)

	// Mapping memory (SCD2). ActiveMapping and MappingAsOf return (nil, nil)
	// when no row qualifies.
	ActiveMapping(ctx context.Context, tenantID, key string) (*model.MappingEntry, error)
	// WriteMapping atomically closes any active row for (tenant, key) and
	// inserts a new active row. Returns ErrMappingConflict if a concurrent
	// writer got there first.
	WriteMapping(ctx context.Context, tenantID, key, pricedItemID, actor, reason string) (*model.MappingEntry, error)
	MappingAsOf(ctx context.Context, tenantID, key string, ts time.Time) (*model.MappingEntry, error)
	MappingHistory(ctx context.Context, tenantID, key string) ([]model.MappingEntry, error)

	// Match results (append-only audit log)
	InsertMatchResult(ctx context.Context, res *model.MatchResult) error
	ListMatchResults(ctx context.Context, filter ResultFilter) ([]model.MatchResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
