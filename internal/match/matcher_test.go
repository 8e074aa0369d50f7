package match

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linden-group/costmatch-cli/internal/candidate"
	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/classify"
	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/rank"
	"github.com/linden-group/costmatch-cli/internal/risk"
	"github.com/linden-group/costmatch-cli/internal/rules"
	"github.com/linden-group/costmatch-cli/internal/store"
)

func fptr(v float64) *float64 { return &v }

func testRules() rules.Provider {
	return rules.Static{Set: &rules.Set{
		Classifier: &rules.ClassifierDoc{
			UnknownCode: "999",
			Curated: []rules.CuratedRule{
				{Family: "Cable Tray", Type: "Elbow 90", Code: "66"},
			},
		},
		Risk: rules.DefaultRiskDoc(),
	}}
}

// newTestMatcher wires the full pipeline against a throwaway SQLite store.
func newTestMatcher(t *testing.T, st store.Store) *Matcher {
	t.Helper()
	provider := testRules()
	return New(
		st,
		classify.New(provider),
		canonical.NewBuilder(5, 5),
		candidate.New(st, candidate.DefaultConfig()),
		rank.New(rank.DefaultConfig()),
		risk.New(provider),
		DefaultConfig(),
	)
}

func newTestSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCatalog(t *testing.T, st store.Store, items ...model.PricedItem) []model.PricedItem {
	t.Helper()
	for i := range items {
		if items[i].UnitPrice.IsZero() {
			items[i].UnitPrice = decimal.RequireFromString("12.40")
		}
		if items[i].Currency == "" {
			items[i].Currency = "EUR"
		}
		if items[i].LastUpdated.IsZero() {
			items[i].LastUpdated = time.Now().UTC()
		}
	}
	_, err := st.UpsertPricedItems(context.Background(), items)
	require.NoError(t, err)
	return items
}

func trayItem(id string) *model.Item {
	return &model.Item{
		ID: id, TenantID: "acme", ProjectID: "p1",
		Family: "Cable Tray", Type: "Elbow 90",
		Quantity: 4, Unit: "ea",
		WidthMM: fptr(200), HeightMM: fptr(50),
	}
}

func TestMatchOneAutoAccept(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)
	ctx := context.Background()

	cat := seedCatalog(t, st,
		model.PricedItem{
			TenantID: "acme", ClassificationCode: "66", VendorID: "v",
			SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
			Unit: "ea", WidthMM: fptr(200), HeightMM: fptr(50),
		},
		model.PricedItem{
			TenantID: "acme", ClassificationCode: "66", VendorID: "v",
			SKU: "CT-90-300x50", Description: "Cable Tray Elbow 90 300x50",
			Unit: "ea", WidthMM: fptr(300), HeightMM: fptr(50),
		},
	)

	item := trayItem("item-1")
	res, err := m.MatchOne(ctx, item, "auto")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionAutoAccepted, res.Decision)
	assert.Equal(t, model.ProvenanceRankedCandidate, res.Provenance)
	assert.Equal(t, cat[0].ID, res.PricedItemID)
	assert.GreaterOrEqual(t, res.Confidence, DefaultConfig().HighConfidence)
	assert.Empty(t, res.Flags)
	assert.NotEmpty(t, res.Candidates, "alternatives are kept for audit")

	// The item got annotated along the way.
	assert.Equal(t, "66", item.ClassificationCode)
	assert.Equal(t, model.TrustCurated, item.ClassifiedBy)
	assert.NotEmpty(t, item.CanonicalKey)

	// And the mapping memory learned the assignment.
	entry, err := st.ActiveMapping(ctx, "acme", item.CanonicalKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, cat[0].ID, entry.PricedItemID)
	assert.Equal(t, "auto", entry.CreatedBy)
}

func TestMatchOneMemoryHit(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)
	ctx := context.Background()

	seedCatalog(t, st, model.PricedItem{
		TenantID: "acme", ClassificationCode: "66", VendorID: "v",
		SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
		Unit: "ea", WidthMM: fptr(200), HeightMM: fptr(50),
	})

	first, err := m.MatchOne(ctx, trayItem("item-1"), "auto")
	require.NoError(t, err)
	require.Equal(t, model.DecisionAutoAccepted, first.Decision)

	// Same physical part in a different project: the key matches, so the
	// stored mapping answers without re-ranking.
	second := trayItem("item-2")
	second.ProjectID = "p2"
	res, err := m.MatchOne(ctx, second, "auto")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionAutoAccepted, res.Decision)
	assert.Equal(t, model.ProvenanceMemoryHit, res.Provenance)
	assert.Equal(t, first.PricedItemID, res.PricedItemID)
	assert.Equal(t, 100.0, res.Confidence)

	history, err := st.MappingHistory(ctx, "acme", second.CanonicalKey)
	require.NoError(t, err)
	assert.Len(t, history, 1, "a memory hit must not write a new mapping row")
}

func TestMatchOneRejectsWhenNothingSurvives(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)

	res, err := m.MatchOne(context.Background(), trayItem("item-1"), "auto")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionRejected, res.Decision)
	assert.Empty(t, res.PricedItemID)
	assert.Zero(t, res.Confidence)

	// The rejection is still auditable.
	results, err := st.ListMatchResults(context.Background(), store.ResultFilter{TenantID: "acme", ItemID: "item-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.DecisionRejected, results[0].Decision)
}

func TestMatchOneEscapeHatchNeverAutoAccepts(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)
	ctx := context.Background()

	// Nothing in class 66; a near-identical entry sits in neighboring 67.
	seedCatalog(t, st, model.PricedItem{
		TenantID: "acme", ClassificationCode: "67", VendorID: "v",
		SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
		Unit: "ea", WidthMM: fptr(200), HeightMM: fptr(50),
	})

	item := trayItem("item-1")
	res, err := m.MatchOne(ctx, item, "auto")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionManualReview, res.Decision,
		"a cross-class suggestion carries a veto and cannot auto-accept")
	assert.NotEmpty(t, res.PricedItemID, "the suggestion is still surfaced to the reviewer")

	var found bool
	for _, f := range res.Flags {
		if f.Type == "classification_mismatch" {
			found = true
			assert.Equal(t, model.SeverityVeto, f.Severity)
		}
	}
	assert.True(t, found, "out-of-class candidates must be flagged")
	require.NotEmpty(t, res.Candidates)
	assert.True(t, res.Candidates[0].OutOfClass)
	assert.Equal(t, res.Flags, res.Candidates[0].Flags,
		"the surfaced top candidate carries the same flags the router saw")

	entry, err := st.ActiveMapping(ctx, "acme", item.CanonicalKey)
	require.NoError(t, err)
	assert.Nil(t, entry, "manual review must not write to the mapping memory")
}

func TestRouteVetoForcesManualReview(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)

	// A candidate priced per meter against an each-counted item: textually
	// near-identical, dimensionally identical, still not auto-acceptable.
	item := trayItem("item-1")
	item.ClassificationCode = "66"
	item.CanonicalKey = "testkey"

	c := candidate.Candidate{PricedItem: model.PricedItem{
		ID: "pi-m", ClassificationCode: "66", SKU: "CT-90-200x50",
		Description: "Cable Tray Elbow 90 200x50", Unit: "m",
		WidthMM: fptr(200), HeightMM: fptr(50), Currency: "EUR",
		LastUpdated: time.Now().UTC(),
	}}
	// A clean runner-up in the right unit, just a weaker textual match.
	alt := candidate.Candidate{PricedItem: model.PricedItem{
		ID: "pi-ea", ClassificationCode: "66", SKU: "CT-90-300x50",
		Description: "Cable Tray Elbow 90 300x50", Unit: "ea",
		WidthMM: fptr(200), HeightMM: fptr(50), Currency: "EUR",
		LastUpdated: time.Now().UTC(),
	}}
	scored := []rank.Scored{{Candidate: c, Score: 95}, {Candidate: alt, Score: 70}}

	res, err := m.route(context.Background(), item, scored, "auto")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionManualReview, res.Decision)
	assert.Equal(t, "veto flag present", res.Reason)
	require.NotEmpty(t, res.Flags)
	assert.True(t, model.HasVeto(res.Flags))

	// Each surfaced alternative carries its own flags, not the top's.
	require.Len(t, res.Candidates, 2)
	assert.True(t, model.HasVeto(res.Candidates[0].Flags))
	assert.False(t, model.HasVeto(res.Candidates[1].Flags),
		"a clean runner-up must not inherit the top candidate's veto")
}

func TestAcceptRefusesVetoFlags(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)

	item := trayItem("item-1")
	item.ClassificationCode = "66"
	item.CanonicalKey = "testkey"
	top := rank.Scored{Candidate: candidate.Candidate{PricedItem: model.PricedItem{ID: "pi-1"}}, Score: 95}
	flags := []model.Flag{{Type: "unit_mismatch", Severity: model.SeverityVeto, Message: "ea vs m"}}

	_, err := m.accept(context.Background(), item, top, flags, nil, "auto")
	require.Error(t, err, "veto supremacy is unconditional")
}

// raceStore simulates losing the mapping-write race: the first memory lookup
// misses, the write conflicts, and the re-read finds the winner's row.
type raceStore struct {
	store.Store
	winner  *model.MappingEntry
	lookups int32
}

func (r *raceStore) ActiveMapping(ctx context.Context, tenantID, key string) (*model.MappingEntry, error) {
	if atomic.AddInt32(&r.lookups, 1) == 1 {
		return nil, nil
	}
	return r.winner, nil
}

func (r *raceStore) WriteMapping(ctx context.Context, tenantID, key, pricedItemID, actor, reason string) (*model.MappingEntry, error) {
	return nil, eris.Wrap(store.ErrMappingConflict, "sqlite: "+tenantID+"/"+key)
}

func TestMatchOneAdoptsWinnerOnWriteConflict(t *testing.T) {
	inner := newTestSQLite(t)
	winner := &model.MappingEntry{
		ID: "map-winner", TenantID: "acme", PricedItemID: "pi-winner",
		ValidFrom: time.Now().UTC(), CreatedBy: "auto", Reason: "concurrent writer",
	}
	st := &raceStore{Store: inner, winner: winner}
	m := newTestMatcher(t, st)

	seedCatalog(t, inner, model.PricedItem{
		TenantID: "acme", ClassificationCode: "66", VendorID: "v",
		SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
		Unit: "ea", WidthMM: fptr(200), HeightMM: fptr(50),
	})

	res, err := m.MatchOne(context.Background(), trayItem("item-1"), "auto")
	require.NoError(t, err)

	assert.Equal(t, model.DecisionAutoAccepted, res.Decision)
	assert.Equal(t, model.ProvenanceMemoryHit, res.Provenance)
	assert.Equal(t, "pi-winner", res.PricedItemID, "the loser adopts the winner's mapping, never overwrites")
}
