package match

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/store"
)

// brokenClassStore fails the candidate query for one classification code, to
// exercise per-item failure recovery.
type brokenClassStore struct {
	store.Store
	failCode string
}

func (b *brokenClassStore) CandidatesByClass(ctx context.Context, tenantID, code string, limit int) ([]model.PricedItem, error) {
	if code == b.failCode {
		return nil, eris.New("simulated storage outage")
	}
	return b.Store.CandidatesByClass(ctx, tenantID, code, limit)
}

func TestProcessBatch(t *testing.T) {
	inner := newTestSQLite(t)
	st := &brokenClassStore{Store: inner, failCode: "13"}
	m := newTestMatcher(t, st)
	ctx := context.Background()

	seedCatalog(t, inner, model.PricedItem{
		TenantID: "acme", ClassificationCode: "66", VendorID: "v",
		SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
		Unit: "ea", WidthMM: fptr(200), HeightMM: fptr(50),
	})

	good := trayItem("item-good")
	noMatch := trayItem("item-nomatch")
	noMatch.Family = "Mystery Widget"
	noMatch.Type = "Unidentified"
	broken := trayItem("item-broken")
	broken.ClassOverride = "13"

	summary, err := ProcessBatch(ctx, st, m, []model.Item{*good, *noMatch, *broken}, 2, "auto")
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Processed)
	assert.Equal(t, int64(1), summary.AutoAccepted)
	assert.Equal(t, int64(1), summary.Rejected)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(0), summary.ManualReview)

	t.Run("failure is recorded as rejected", func(t *testing.T) {
		results, err := inner.ListMatchResults(ctx, store.ResultFilter{TenantID: "acme", ItemID: "item-broken"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, model.DecisionRejected, results[0].Decision)
		assert.Contains(t, results[0].Reason, "pipeline error")
	})

	t.Run("every item has an audit row", func(t *testing.T) {
		results, err := inner.ListMatchResults(ctx, store.ResultFilter{TenantID: "acme"})
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

func TestProcessBatchEmpty(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)

	summary, err := ProcessBatch(context.Background(), st, m, nil, 4, "auto")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Processed)
	assert.Equal(t, int64(0), summary.Failed)
}

func TestProcessBatchIndependentItems(t *testing.T) {
	st := newTestSQLite(t)
	m := newTestMatcher(t, st)
	ctx := context.Background()

	seedCatalog(t, st, model.PricedItem{
		TenantID: "acme", ClassificationCode: "66", VendorID: "v",
		SKU: "CT-90-200x50", Description: "Cable Tray Elbow 90 200x50",
		Unit: "ea", WidthMM: fptr(200), HeightMM: fptr(50),
	})

	// Ten copies of the same identity hammer the same canonical key; exactly
	// one mapping row must come out the other side regardless of which write
	// wins the race.
	items := make([]model.Item, 10)
	for i := range items {
		it := trayItem("item-" + string(rune('a'+i)))
		items[i] = *it
	}

	summary, err := ProcessBatch(ctx, st, m, items, 4, "auto")
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Processed)
	assert.Equal(t, int64(10), summary.AutoAccepted)
	assert.Equal(t, int64(0), summary.Failed)

	// ProcessBatch works on copies; recompute the key from a fresh match.
	res, err := m.MatchOne(ctx, trayItem("item-recheck"), "auto")
	require.NoError(t, err)
	key := res.CanonicalKey

	// Concurrent accepts may supersede each other, but they must converge on
	// one active row pointing at one catalog entry.
	active, err := st.ActiveMapping(ctx, "acme", key)
	require.NoError(t, err)
	require.NotNil(t, active)

	history, err := st.MappingHistory(ctx, "acme", key)
	require.NoError(t, err)
	activeRows := 0
	for _, e := range history {
		assert.Equal(t, active.PricedItemID, e.PricedItemID)
		if e.Active() {
			activeRows++
		}
	}
	assert.Equal(t, 1, activeRows)
}
