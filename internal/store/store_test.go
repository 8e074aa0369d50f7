package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linden-group/costmatch-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func fptr(v float64) *float64 { return &v }

func catalogFixture() []model.PricedItem {
	return []model.PricedItem{
		{
			TenantID: "acme", ClassificationCode: "66", VendorID: "vendor-a",
			SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
			Unit: "ea", UnitPrice: decimal.RequireFromString("12.40"),
			Currency: "EUR", WidthMM: fptr(200), HeightMM: fptr(50),
			Material: "Steel", LastUpdated: time.Now().UTC(),
		},
		{
			TenantID: "acme", ClassificationCode: "66", VendorID: "vendor-a",
			SKU: "CT-90-300x50", Description: "Cable Tray Elbow 90 300x50",
			Unit: "ea", UnitPrice: decimal.RequireFromString("15.90"),
			Currency: "EUR", WidthMM: fptr(300), HeightMM: fptr(50),
			LastUpdated: time.Now().UTC(),
		},
		{
			TenantID: "acme", ClassificationCode: "67", VendorID: "vendor-b",
			SKU: "LT-STR-300", Description: "Ladder Tray Straight 300",
			Unit: "m", UnitPrice: decimal.RequireFromString("8.10"),
			Currency: "EUR", WidthMM: fptr(300), LastUpdated: time.Now().UTC(),
		},
		{
			TenantID: "other", ClassificationCode: "66", VendorID: "vendor-a",
			SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
			Unit: "ea", UnitPrice: decimal.RequireFromString("11.00"),
			Currency: "EUR", LastUpdated: time.Now().UTC(),
		},
	}
}

func TestCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := catalogFixture()
	n, err := s.UpsertPricedItems(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, len(items), n)

	t.Run("get by id", func(t *testing.T) {
		got, err := s.GetPricedItem(ctx, items[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "CT-90-200x50", got.SKU)
		assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("12.40")))
		require.NotNil(t, got.WidthMM)
		assert.Equal(t, 200.0, *got.WidthMM)
		assert.Equal(t, "Steel", got.Material)
	})

	t.Run("get missing id", func(t *testing.T) {
		_, err := s.GetPricedItem(ctx, "no-such-id")
		assert.Error(t, err)
	})

	t.Run("upsert replaces on vendor+sku", func(t *testing.T) {
		updated := items[0]
		updated.ID = ""
		updated.UnitPrice = decimal.RequireFromString("13.10")
		batch := []model.PricedItem{updated}
		_, err := s.UpsertPricedItems(ctx, batch)
		require.NoError(t, err)

		size, err := s.CatalogSize(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 3, size, "re-feeding the same vendor/sku must not duplicate")

		got, err := s.GetPricedItem(ctx, items[0].ID)
		require.NoError(t, err)
		assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("13.10")))
	})

	t.Run("upsert resolves existing id on conflict", func(t *testing.T) {
		dup := items[1]
		dup.ID = ""
		dup.Description = "Cable tray bend 90deg 300x50 refreshed"
		batch := []model.PricedItem{dup}
		_, err := s.UpsertPricedItems(ctx, batch)
		require.NoError(t, err)

		assert.Equal(t, items[1].ID, batch[0].ID,
			"conflict path must hand back the stored row's id, not a fresh one")

		got, err := s.GetPricedItem(ctx, batch[0].ID)
		require.NoError(t, err)
		assert.Equal(t, dup.Description, got.Description)
	})

	t.Run("candidates by class are tenant scoped", func(t *testing.T) {
		got, err := s.CandidatesByClass(ctx, "acme", "66", 100)
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, pi := range got {
			assert.Equal(t, "acme", pi.TenantID)
			assert.Equal(t, "66", pi.ClassificationCode)
		}
	})

	t.Run("candidates by class respects limit", func(t *testing.T) {
		got, err := s.CandidatesByClass(ctx, "acme", "66", 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("candidates by prefix excludes own class", func(t *testing.T) {
		got, err := s.CandidatesByClassPrefix(ctx, "acme", "6", "66", 100)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "67", got[0].ClassificationCode)
	})

	t.Run("catalog size per tenant", func(t *testing.T) {
		size, err := s.CatalogSize(ctx, "other")
		require.NoError(t, err)
		assert.Equal(t, 1, size)
	})
}

func TestMappingMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := catalogFixture()[:2]
	_, err := s.UpsertPricedItems(ctx, items)
	require.NoError(t, err)

	const key = "aa11bb22cc33dd44aa11bb22cc33dd44"

	t.Run("no active mapping yet", func(t *testing.T) {
		got, err := s.ActiveMapping(ctx, "acme", key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("write then read back", func(t *testing.T) {
		entry, err := s.WriteMapping(ctx, "acme", key, items[0].ID, "auto", "score 86.2 above threshold")
		require.NoError(t, err)
		assert.True(t, entry.Active())

		got, err := s.ActiveMapping(ctx, "acme", key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, items[0].ID, got.PricedItemID)
		assert.Equal(t, "auto", got.CreatedBy)
		assert.Nil(t, got.ValidTo)
	})

	t.Run("active mapping is tenant scoped", func(t *testing.T) {
		got, err := s.ActiveMapping(ctx, "other", key)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("supersede closes the previous row", func(t *testing.T) {
		time.Sleep(10 * time.Millisecond)
		_, err := s.WriteMapping(ctx, "acme", key, items[1].ID, "reviewer@acme", "manual correction")
		require.NoError(t, err)

		active, err := s.ActiveMapping(ctx, "acme", key)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, items[1].ID, active.PricedItemID)

		history, err := s.MappingHistory(ctx, "acme", key)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.False(t, history[0].Active(), "superseded row must be closed, not deleted")
		assert.True(t, history[1].Active())
		require.NotNil(t, history[0].ValidTo)
		assert.False(t, history[1].ValidFrom.Before(*history[0].ValidTo),
			"validity intervals must not overlap")
	})

	t.Run("as-of reproduces past state", func(t *testing.T) {
		history, err := s.MappingHistory(ctx, "acme", key)
		require.NoError(t, err)
		require.Len(t, history, 2)

		// A timestamp inside the first interval resolves to the first row.
		past := history[0].ValidFrom.Add(time.Millisecond)
		got, err := s.MappingAsOf(ctx, "acme", key, past)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, history[0].ID, got.ID)

		// Before any write there is no mapping.
		got, err = s.MappingAsOf(ctx, "acme", key, history[0].ValidFrom.Add(-time.Hour))
		require.NoError(t, err)
		assert.Nil(t, got)

		// Now resolves to the active row.
		got, err = s.MappingAsOf(ctx, "acme", key, time.Now().UTC())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, history[1].ID, got.ID)
	})

	t.Run("as-of answers stay stable after later writes", func(t *testing.T) {
		history, err := s.MappingHistory(ctx, "acme", key)
		require.NoError(t, err)
		past := history[0].ValidFrom.Add(time.Millisecond)

		before, err := s.MappingAsOf(ctx, "acme", key, past)
		require.NoError(t, err)
		require.NotNil(t, before)

		time.Sleep(10 * time.Millisecond)
		_, err = s.WriteMapping(ctx, "acme", key, items[0].ID, "reviewer@acme", "revert")
		require.NoError(t, err)

		after, err := s.MappingAsOf(ctx, "acme", key, past)
		require.NoError(t, err)
		require.NotNil(t, after)
		assert.Equal(t, before.ID, after.ID, "history rewrites would break reproducibility")
	})

	t.Run("second active row is rejected by the index", func(t *testing.T) {
		// Bypass WriteMapping's close step to simulate a concurrent writer
		// committing between our close and insert.
		_, err := s.db.Exec(
			`INSERT INTO mapping_entries (id, tenant_id, canonical_key, priced_item_id,
				valid_from, valid_to, created_by, reason)
			 VALUES ('dup-row', 'acme', ?, ?, ?, NULL, 'auto', 'race simulation')`,
			key, items[0].ID, time.Now().UTC())
		require.Error(t, err)
		assert.True(t, isSQLiteUniqueViolation(err))
	})
}

func TestMatchResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := model.MatchResult{
		TenantID: "acme", ItemID: "item-1", ProjectID: "p1",
		CanonicalKey: "k1", ClassificationCode: "66", PricedItemID: "pi-1",
		Confidence: 86.2,
		Flags: []model.Flag{
			{Type: "stale_price", Severity: model.SeverityAdvisory, Message: "price is 400 days old"},
		},
		Candidates: []model.RankedCandidate{
			{PricedItemID: "pi-1", SKU: "CT-90-200x50", Score: 86.2},
		},
		Decision: model.DecisionAutoAccepted, Provenance: model.ProvenanceRankedCandidate,
		Reason: "score above high-confidence threshold", Actor: "auto",
	}
	require.NoError(t, s.InsertMatchResult(ctx, &base))
	assert.NotEmpty(t, base.ID)
	assert.False(t, base.CreatedAt.IsZero())

	second := model.MatchResult{
		TenantID: "acme", ItemID: "item-2", ProjectID: "p1",
		Confidence: 0, Decision: model.DecisionRejected,
		Reason: "no candidates survived filtering", Actor: "auto",
		CreatedAt: time.Now().UTC().Add(time.Second),
	}
	require.NoError(t, s.InsertMatchResult(ctx, &second))

	t.Run("round trip", func(t *testing.T) {
		got, err := s.ListMatchResults(ctx, ResultFilter{TenantID: "acme", ItemID: "item-1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, base.Decision, got[0].Decision)
		assert.Equal(t, base.Provenance, got[0].Provenance)
		require.Len(t, got[0].Flags, 1)
		assert.Equal(t, "stale_price", got[0].Flags[0].Type)
		require.Len(t, got[0].Candidates, 1)
		assert.Equal(t, 86.2, got[0].Candidates[0].Score)
	})

	t.Run("filter by decision", func(t *testing.T) {
		got, err := s.ListMatchResults(ctx, ResultFilter{TenantID: "acme", Decision: model.DecisionRejected})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "item-2", got[0].ItemID)
	})

	t.Run("newest first", func(t *testing.T) {
		got, err := s.ListMatchResults(ctx, ResultFilter{TenantID: "acme"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "item-2", got[0].ItemID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := s.ListMatchResults(ctx, ResultFilter{TenantID: "acme", Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "item-1", got[0].ItemID)
	})
}

func TestErrMappingConflictIdentity(t *testing.T) {
	wrapped := eris.Wrap(ErrMappingConflict, "sqlite: acme/key")
	assert.True(t, eris.Is(wrapped, ErrMappingConflict))
}
