// Package classify assigns classification codes to items by walking an
// ordered trust hierarchy of data-driven rule tables.
package classify

import (
	"strings"

	"go.uber.org/zap"

	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/model"
	"github.com/linden-group/costmatch-cli/internal/rules"
)

// Result is the classifier's decision for one item.
type Result struct {
	Code string
	// Level records which trust tier produced the code, for audit.
	Level model.TrustLevel
	// NeedsReview is set when only the unknown sentinel matched.
	NeedsReview bool
}

// Classifier evaluates the trust hierarchy against a rule provider, so rule
// reloads take effect between items without rebuilding the classifier.
type Classifier struct {
	provider rules.Provider
}

// New creates a Classifier backed by the given rule provider.
func New(provider rules.Provider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify walks the trust hierarchy top-down and returns the first match.
// It fails closed: well-formed input always classifies, at worst to the
// unknown sentinel. Ties within a level resolve to the first rule in
// declaration order.
func (c *Classifier) Classify(item *model.Item) Result {
	doc := c.provider.Current().Classifier

	// Level 1: explicit override on the item.
	if item.ClassOverride != "" {
		return Result{Code: item.ClassOverride, Level: model.TrustOverride}
	}

	family := canonical.NormalizeText(item.Family)
	typ := canonical.NormalizeText(item.Type)

	// Level 2: curated (family, type) lookup.
	for _, r := range doc.Curated {
		if canonical.NormalizeText(r.Family) == family && canonical.NormalizeText(r.Type) == typ {
			return Result{Code: r.Code, Level: model.TrustCurated}
		}
	}

	// Level 3: structural (category, subsystem) rules.
	if item.Category != "" {
		for _, r := range doc.Structural {
			if !strings.EqualFold(r.Category, item.Category) {
				continue
			}
			if r.Subsystem != "" && !strings.EqualFold(r.Subsystem, item.Subsystem) {
				continue
			}
			return Result{Code: r.Code, Level: model.TrustStructural}
		}
	}

	// Level 4: keyword heuristics over the combined name text.
	text := family + " " + typ
	for _, r := range doc.Keywords {
		for _, kw := range r.Contains {
			if strings.Contains(text, canonical.NormalizeText(kw)) {
				return Result{Code: r.Code, Level: model.TrustKeyword}
			}
		}
	}

	// Level 5: unknown sentinel.
	zap.L().Debug("classify: no rule matched, using sentinel",
		zap.String("item_id", item.ID),
		zap.String("family", item.Family),
		zap.String("type", item.Type),
	)
	return Result{Code: doc.UnknownCode, Level: model.TrustUnknown, NeedsReview: true}
}
