// Package candidate retrieves the pruned, classification-blocked candidate
// set for an item. Blocking on the classification code is the main
// performance lever: ranking only ever sees a small in-class slice of the
// catalog, never the whole thing.
package candidate

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/store"
)

// Candidate is a catalog entry eligible for ranking. OutOfClass marks
// escape-hatch candidates drawn from a neighboring classification; the risk
// engine turns that into a visible classification-mismatch flag so a
// reviewer is never shown a cross-class suggestion without warning.
type Candidate struct {
	model.PricedItem
	OutOfClass bool
}

// Config tunes candidate generation.
type Config struct {
	// MaxCandidates caps the in-class set handed to the ranker.
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates"`
	// EscapeHatchLimit bounds the out-of-class fallback set.
	EscapeHatchLimit int `yaml:"escape_hatch_limit" mapstructure:"escape_hatch_limit"`
	// DimensionToleranceMM is the pre-filter window: candidates whose
	// dimensions differ from the item's by more than this are dropped
	// before text ranking.
	DimensionToleranceMM float64 `yaml:"dimension_tolerance_mm" mapstructure:"dimension_tolerance_mm"`
}

// DefaultConfig returns the standard generation parameters.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:        200,
		EscapeHatchLimit:     2,
		DimensionToleranceMM: 25,
	}
}

// Generator produces candidate sets from the catalog store.
type Generator struct {
	store store.Store
	cfg   Config
}

// New creates a Generator.
func New(st store.Store, cfg Config) *Generator {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 200
	}
	if cfg.EscapeHatchLimit <= 0 {
		cfg.EscapeHatchLimit = 2
	}
	return &Generator{store: st, cfg: cfg}
}

// Generate returns the candidate set for an item. The item must already be
// classified. All queries are scoped to the item's tenant; candidates from
// another tenant can never appear, including on the escape-hatch path.
func (g *Generator) Generate(ctx context.Context, item *model.Item) ([]Candidate, error) {
	if item.ClassificationCode == "" {
		return nil, eris.Errorf("candidate: item %s has no classification code", item.ID)
	}

	inClass, err := g.store.CandidatesByClass(ctx, item.TenantID, item.ClassificationCode, g.cfg.MaxCandidates)
	if err != nil {
		return nil, eris.Wrap(err, "candidate: in-class query")
	}

	candidates := g.filter(item, inClass, false)
	if len(candidates) > 0 {
		return candidates, nil
	}

	// Escape hatch: nothing survived in class. Pull a bounded set from the
	// nearest neighboring classifications (longest shared code prefix)
	// instead of failing outright.
	fallback, err := g.escapeHatch(ctx, item)
	if err != nil {
		return nil, err
	}
	if len(fallback) > 0 {
		zap.L().Debug("candidate: using escape hatch",
			zap.String("item_id", item.ID),
			zap.String("class", item.ClassificationCode),
			zap.Int("candidates", len(fallback)),
		)
	}
	return fallback, nil
}

// filter applies the numeric pre-filters: unit compatibility and dimensional
// proximity. Escape-hatch candidates skip the dimension filter — they are
// suggestions for a human, not auto-accept material.
func (g *Generator) filter(item *model.Item, items []model.PricedItem, outOfClass bool) []Candidate {
	var out []Candidate
	for _, pi := range items {
		if !canonical.UnitsCompatible(item.Unit, pi.Unit) {
			continue
		}
		if !outOfClass && !g.dimensionsClose(item, &pi) {
			continue
		}
		out = append(out, Candidate{PricedItem: pi, OutOfClass: outOfClass})
	}
	return out
}

// dimensionsClose checks each dimension both sides declare against the
// tolerance window. A dimension missing on either side is not compared.
func (g *Generator) dimensionsClose(item *model.Item, pi *model.PricedItem) bool {
	tol := g.cfg.DimensionToleranceMM
	if tol <= 0 {
		return true
	}
	pairs := [][2]*float64{
		{item.WidthMM, pi.WidthMM},
		{item.HeightMM, pi.HeightMM},
		{item.DiameterMM, pi.DiameterMM},
	}
	for _, p := range pairs {
		if p[0] != nil && p[1] != nil && math.Abs(*p[0]-*p[1]) > tol {
			return false
		}
	}
	return true
}

// escapeHatch queries neighboring classifications by progressively shorter
// code prefixes until something turns up or the prefix is exhausted.
func (g *Generator) escapeHatch(ctx context.Context, item *model.Item) ([]Candidate, error) {
	code := item.ClassificationCode
	for n := len(code) - 1; n >= 1; n-- {
		prefix := code[:n]
		items, err := g.store.CandidatesByClassPrefix(ctx, item.TenantID, prefix, code, g.cfg.EscapeHatchLimit)
		if err != nil {
			return nil, eris.Wrap(err, "candidate: escape hatch query")
		}
		if cands := g.filter(item, items, true); len(cands) > 0 {
			return cands, nil
		}
	}
	return nil, nil
}
