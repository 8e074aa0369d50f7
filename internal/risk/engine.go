// Package risk evaluates business-risk predicates against an
// (item, candidate) pair. Predicates are built in; which ones run, and at
// what severity, comes from the risk rule document.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/linden-group/costmatch-cli/internal/candidate"
	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/rules"
)

// predicate returns a flag message when the rule fires, or "" when it does not.
type predicate func(item *model.Item, c *candidate.Candidate, doc *rules.RiskDoc, now time.Time) string

// predicates maps rule names to their implementations. The result set is
// independent of evaluation order; each predicate inspects only the pair.
var predicates = map[string]predicate{
	"unit_mismatch": func(item *model.Item, c *candidate.Candidate, _ *rules.RiskDoc, _ time.Time) string {
		if item.Unit == "" || c.Unit == "" {
			return ""
		}
		if canonical.NormalizeUnit(item.Unit) != canonical.NormalizeUnit(c.Unit) {
			return fmt.Sprintf("item unit %q does not match candidate unit %q", item.Unit, c.Unit)
		}
		return ""
	},

	"dimension_mismatch": func(item *model.Item, c *candidate.Candidate, doc *rules.RiskDoc, _ time.Time) string {
		pairs := []struct {
			name       string
			item, cand *float64
		}{
			{"width", item.WidthMM, c.WidthMM},
			{"height", item.HeightMM, c.HeightMM},
			{"diameter", item.DiameterMM, c.DiameterMM},
		}
		for _, p := range pairs {
			if p.item == nil || p.cand == nil {
				continue
			}
			if d := math.Abs(*p.item - *p.cand); d > doc.DimensionToleranceMM {
				return fmt.Sprintf("%s differs by %.0fmm (tolerance %.0fmm)", p.name, d, doc.DimensionToleranceMM)
			}
		}
		return ""
	},

	"angle_mismatch": func(item *model.Item, c *candidate.Candidate, doc *rules.RiskDoc, _ time.Time) string {
		if item.AngleDeg == nil || c.AngleDeg == nil {
			return ""
		}
		if d := math.Abs(*item.AngleDeg - *c.AngleDeg); d > doc.AngleToleranceDeg {
			return fmt.Sprintf("angle differs by %.0f° (tolerance %.0f°)", d, doc.AngleToleranceDeg)
		}
		return ""
	},

	"material_mismatch": func(item *model.Item, c *candidate.Candidate, _ *rules.RiskDoc, _ time.Time) string {
		im := canonical.NormalizeText(item.Material)
		cm := canonical.NormalizeText(c.Material)
		if im == "" || cm == "" {
			return ""
		}
		if im != cm {
			return fmt.Sprintf("item material %q does not match candidate material %q", item.Material, c.Material)
		}
		return ""
	},

	"classification_mismatch": func(item *model.Item, c *candidate.Candidate, _ *rules.RiskDoc, _ time.Time) string {
		if c.OutOfClass || (item.ClassificationCode != "" && c.ClassificationCode != item.ClassificationCode) {
			return fmt.Sprintf("candidate classification %q differs from item classification %q",
				c.ClassificationCode, item.ClassificationCode)
		}
		return ""
	},

	"stale_price": func(_ *model.Item, c *candidate.Candidate, doc *rules.RiskDoc, now time.Time) string {
		if doc.StalePriceDays <= 0 || c.LastUpdated.IsZero() {
			return ""
		}
		age := now.Sub(c.LastUpdated)
		if age > time.Duration(doc.StalePriceDays)*24*time.Hour {
			return fmt.Sprintf("price last updated %s, older than %d days",
				c.LastUpdated.Format("2006-01-02"), doc.StalePriceDays)
		}
		return ""
	},

	"currency_ambiguous": func(_ *model.Item, c *candidate.Candidate, _ *rules.RiskDoc, _ time.Time) string {
		if c.Currency == "" {
			return "candidate has no currency set"
		}
		return ""
	},

	"vendor_note_present": func(_ *model.Item, c *candidate.Candidate, _ *rules.RiskDoc, _ time.Time) string {
		if c.VendorNote != "" {
			return "vendor note: " + c.VendorNote
		}
		return ""
	},
}

// Engine evaluates the configured predicate set.
type Engine struct {
	provider rules.Provider
	now      func() time.Time
}

// New creates an Engine backed by the given rule provider.
func New(provider rules.Provider) *Engine {
	return &Engine{provider: provider, now: time.Now}
}

// Evaluate runs every enabled predicate against the pair and returns the
// flags that fired. Multiple flags may fire at once.
func (e *Engine) Evaluate(item *model.Item, c *candidate.Candidate) []model.Flag {
	doc := e.provider.Current().Risk
	now := e.now()

	var flags []model.Flag
	for _, rule := range doc.Rules {
		pred, ok := predicates[rule.Name]
		if !ok {
			// Validation rejects unknown names at load time.
			continue
		}
		if msg := pred(item, c, doc, now); msg != "" {
			flags = append(flags, model.Flag{
				Type:     rule.Name,
				Severity: rule.Severity,
				Message:  msg,
			})
		}
	}
	return flags
}
