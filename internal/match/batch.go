package match

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/store"
)

// BatchSummary aggregates the outcomes of one batch run.
type BatchSummary struct {
	Processed    int64 `json:"processed"`
	AutoAccepted int64 `json:"auto_accepted"`
	ManualReview int64 `json:"manual_review"`
	Rejected     int64 `json:"rejected"`
	Failed       int64 `json:"failed"`
}

// ProcessBatch matches items concurrently. Items are independent, so order
// does not matter. A single item's failure is recovered: the item is
// recorded as rejected with a diagnostic reason and the batch continues.
// Cancelling ctx stops the loop between items; an in-flight mapping write is
// never interrupted.
func ProcessBatch(ctx context.Context, st store.Store, matcher *Matcher, items []model.Item, concurrency int, actor string) (*BatchSummary, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	zap.L().Info("batch: starting",
		zap.Int("items", len(items)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var summary BatchSummary

	for i := range items {
		item := items[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			log := zap.L().With(zap.String("item_id", item.ID))

			res, err := matcher.MatchOne(gctx, &item, actor)
			if err != nil {
				atomic.AddInt64(&summary.Failed, 1)
				log.Error("batch: item failed", zap.Error(err))
				recordFailure(gctx, st, &item, actor, err)
				return nil // one bad item must never abort the batch
			}

			atomic.AddInt64(&summary.Processed, 1)
			switch res.Decision {
			case model.DecisionAutoAccepted:
				atomic.AddInt64(&summary.AutoAccepted, 1)
			case model.DecisionManualReview:
				atomic.AddInt64(&summary.ManualReview, 1)
			case model.DecisionRejected:
				atomic.AddInt64(&summary.Rejected, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &summary, eris.Wrap(err, "match: batch processing")
	}

	zap.L().Info("batch: complete",
		zap.Int64("processed", summary.Processed),
		zap.Int64("auto_accepted", summary.AutoAccepted),
		zap.Int64("manual_review", summary.ManualReview),
		zap.Int64("rejected", summary.Rejected),
		zap.Int64("failed", summary.Failed),
	)
	return &summary, nil
}

// recordFailure writes a rejected audit row for an item whose pipeline
// errored, so the failure is visible downstream. Best effort: a second
// failure here is logged, not raised.
func recordFailure(ctx context.Context, st store.Store, item *model.Item, actor string, matchErr error) {
	msg := matchErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	res := &model.MatchResult{
		TenantID:           item.TenantID,
		ItemID:             item.ID,
		ProjectID:          item.ProjectID,
		CanonicalKey:       item.CanonicalKey,
		ClassificationCode: item.ClassificationCode,
		Decision:           model.DecisionRejected,
		Reason:             "pipeline error: " + msg,
		Actor:              actor,
		CreatedAt:          time.Now().UTC(),
	}
	if err := st.InsertMatchResult(ctx, res); err != nil {
		zap.L().Warn("batch: failed to record rejection",
			zap.String("item_id", item.ID), zap.Error(err))
	}
}
