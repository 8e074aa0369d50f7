// Package match sequences classification, canonicalization, memory lookup,
// candidate ranking, risk flagging, and routing into the per-item pipeline.
package match

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/linden-group/costmatch-cli/internal/candidate"
	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/classify"
	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/rank"
	"github.com/linden-group/costmatch-cli/internal/risk"
	"github.com/linden-group/costmatch-cli/internal/store"
)

// Config tunes routing decisions.
type Config struct {
	// HighConfidence is the minimum score for automatic acceptance of a
	// ranked candidate.
	HighConfidence float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
}

// DefaultConfig returns the standard routing parameters.
func DefaultConfig() Config {
	return Config{HighConfidence: 80}
}

// Matcher is the end-to-end per-item pipeline.
type Matcher struct {
	store      store.Store
	classifier *classify.Classifier
	keys       *canonical.Builder
	generator  *candidate.Generator
	ranker     *rank.Ranker
	risk       *risk.Engine
	cfg        Config
}

// New creates a Matcher with all dependencies.
func New(
	st store.Store,
	classifier *classify.Classifier,
	keys *canonical.Builder,
	generator *candidate.Generator,
	ranker *rank.Ranker,
	riskEngine *risk.Engine,
	cfg Config,
) *Matcher {
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = 80
	}
	return &Matcher{
		store:      st,
		classifier: classifier,
		keys:       keys,
		generator:  generator,
		ranker:     ranker,
		risk:       riskEngine,
		cfg:        cfg,
	}
}

// MatchOne runs the full pipeline for a single item and records the outcome
// in the audit log. The returned result is terminal for this invocation;
// re-matching the same item later appends a new result.
func (m *Matcher) MatchOne(ctx context.Context, item *model.Item, actor string) (*model.MatchResult, error) {
	log := zap.L().With(
		zap.String("item_id", item.ID),
		zap.String("tenant", item.TenantID),
	)

	// Classification first; the canonical key depends on it.
	cls := m.classifier.Classify(item)
	item.ClassificationCode = cls.Code
	item.ClassifiedBy = cls.Level

	key, err := m.keys.Key(item)
	if err != nil {
		return nil, eris.Wrap(err, "match: build canonical key")
	}
	item.CanonicalKey = key

	// Memory precedence: a previously approved mapping is trusted without
	// re-ranking or re-flagging.
	entry, err := m.store.ActiveMapping(ctx, item.TenantID, key)
	if err != nil {
		return nil, eris.Wrap(err, "match: memory lookup")
	}
	if entry != nil {
		res := m.memoryHit(item, entry, actor)
		if err := m.store.InsertMatchResult(ctx, res); err != nil {
			return nil, eris.Wrap(err, "match: record memory hit")
		}
		log.Info("match: memory hit", zap.String("priced_item", entry.PricedItemID))
		return res, nil
	}

	candidates, err := m.generator.Generate(ctx, item)
	if err != nil {
		return nil, eris.Wrap(err, "match: generate candidates")
	}

	scored := m.ranker.Rank(item, candidates)
	res, err := m.route(ctx, item, scored, actor)
	if err != nil {
		return nil, err
	}

	if err := m.store.InsertMatchResult(ctx, res); err != nil {
		return nil, eris.Wrap(err, "match: record result")
	}
	log.Info("match: decided",
		zap.String("decision", string(res.Decision)),
		zap.Float64("confidence", res.Confidence),
		zap.Int("flags", len(res.Flags)),
	)
	return res, nil
}

// route applies the decision state machine to the ranked candidates.
func (m *Matcher) route(ctx context.Context, item *model.Item, scored []rank.Scored, actor string) (*model.MatchResult, error) {
	if len(scored) == 0 {
		return m.baseResult(item, actor, func(r *model.MatchResult) {
			r.Decision = model.DecisionRejected
			r.Reason = "no candidates survived filtering"
		}), nil
	}

	top := scored[0]
	cands := m.rankedCandidates(item, scored)
	flags := cands[0].Flags
	veto := model.HasVeto(flags)

	if top.Score >= m.cfg.HighConfidence && !veto {
		return m.accept(ctx, item, top, flags, cands, actor)
	}

	reason := "score below high-confidence threshold"
	if veto {
		reason = "veto flag present"
	}
	return m.baseResult(item, actor, func(r *model.MatchResult) {
		r.Decision = model.DecisionManualReview
		r.Provenance = model.ProvenanceRankedCandidate
		r.PricedItemID = top.Candidate.ID
		r.Confidence = top.Score
		r.Flags = flags
		r.Candidates = cands
		r.Reason = reason
	}), nil
}

// accept persists the mapping and emits the auto-accepted result. If a
// concurrent writer won the race on this key, the store's uniqueness
// constraint rejects our insert and we fall back to the winner's mapping
// (read-then-decide, never overwrite).
func (m *Matcher) accept(ctx context.Context, item *model.Item, top rank.Scored, flags []model.Flag, cands []model.RankedCandidate, actor string) (*model.MatchResult, error) {
	// Accepting with a veto flag present is a logic error, not a business
	// outcome. Guard it unconditionally.
	if model.HasVeto(flags) {
		return nil, eris.Errorf("match: refusing to auto-accept item %s with veto flag", item.ID)
	}

	// A cancelled batch must not interrupt a write already issued: a closed
	// row with no successor is unrecoverable without compensating logic.
	writeCtx := context.WithoutCancel(ctx)
	_, err := m.store.WriteMapping(writeCtx, item.TenantID, item.CanonicalKey, top.Candidate.ID, actor,
		"auto-accepted at score "+formatScore(top.Score))
	if err != nil {
		if eris.Is(err, store.ErrMappingConflict) {
			entry, lookupErr := m.store.ActiveMapping(writeCtx, item.TenantID, item.CanonicalKey)
			if lookupErr != nil {
				return nil, eris.Wrap(lookupErr, "match: re-read after write conflict")
			}
			if entry != nil {
				zap.L().Info("match: lost write race, adopting existing mapping",
					zap.String("item_id", item.ID),
					zap.String("key", item.CanonicalKey),
				)
				return m.memoryHit(item, entry, actor), nil
			}
		}
		return nil, eris.Wrap(err, "match: persist mapping")
	}

	return m.baseResult(item, actor, func(r *model.MatchResult) {
		r.Decision = model.DecisionAutoAccepted
		r.Provenance = model.ProvenanceRankedCandidate
		r.PricedItemID = top.Candidate.ID
		r.Confidence = top.Score
		r.Flags = flags
		r.Candidates = cands
		r.Reason = "top candidate above high-confidence threshold with no veto flags"
	}), nil
}

// memoryHit builds the result for an existing approved mapping.
func (m *Matcher) memoryHit(item *model.Item, entry *model.MappingEntry, actor string) *model.MatchResult {
	return m.baseResult(item, actor, func(r *model.MatchResult) {
		r.Decision = model.DecisionAutoAccepted
		r.Provenance = model.ProvenanceMemoryHit
		r.PricedItemID = entry.PricedItemID
		r.Confidence = 100
		r.Reason = "active mapping found for canonical key"
	})
}

func (m *Matcher) baseResult(item *model.Item, actor string, fill func(*model.MatchResult)) *model.MatchResult {
	r := &model.MatchResult{
		TenantID:           item.TenantID,
		ItemID:             item.ID,
		ProjectID:          item.ProjectID,
		CanonicalKey:       item.CanonicalKey,
		ClassificationCode: item.ClassificationCode,
		Actor:              actor,
		CreatedAt:          time.Now().UTC(),
	}
	fill(r)
	return r
}

// rankedCandidates builds the surfaced alternatives, each carrying its own
// risk flags so a reviewer can judge runner-ups without re-running the
// evaluation. Routing only ever keys on the top candidate's flags.
func (m *Matcher) rankedCandidates(item *model.Item, scored []rank.Scored) []model.RankedCandidate {
	out := make([]model.RankedCandidate, 0, len(scored))
	for i := range scored {
		s := &scored[i]
		out = append(out, model.RankedCandidate{
			PricedItemID: s.Candidate.ID,
			SKU:          s.Candidate.SKU,
			Score:        s.Score,
			OutOfClass:   s.Candidate.OutOfClass,
			Flags:        m.risk.Evaluate(item, &s.Candidate),
		})
	}
	return out
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 2, 64)
}
