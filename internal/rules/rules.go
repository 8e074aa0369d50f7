// Package rules loads and validates the data-driven rule tables that
// configure classification and risk flagging. Rule files are plain YAML so
// new rules ship without a recompile; malformed files are rejected at load
// time with a field-level error.
package rules

import (
	"github.com/rotisserie/eris"

	"github.com/linden-group/costmatch-cli/internal/model"
)

// ClassifierDoc is the on-disk rule document for the trust-hierarchy
// classifier. The four rule tables are evaluated in fixed priority order:
// explicit override (on the item itself), curated, structural, keyword,
// then the unknown sentinel.
type ClassifierDoc struct {
	// UnknownCode is the sentinel classification assigned when no rule
	// matches. Items classified with it are marked for manual review.
	UnknownCode string `yaml:"unknown_code"`

	Curated    []CuratedRule    `yaml:"curated"`
	Structural []StructuralRule `yaml:"structural"`
	Keywords   []KeywordRule    `yaml:"keywords"`
}

// CuratedRule maps an exact normalized (family, type) pair to a code.
type CuratedRule struct {
	Family string `yaml:"family"`
	Type   string `yaml:"type"`
	Code   string `yaml:"code"`
}

// StructuralRule maps a (category, subsystem) pair to a code. An empty
// subsystem matches any subsystem within the category.
type StructuralRule struct {
	Category  string `yaml:"category"`
	Subsystem string `yaml:"subsystem"`
	Code      string `yaml:"code"`
}

// KeywordRule assigns a code when any of its substrings occurs in the item's
// family or type text (case-insensitive).
type KeywordRule struct {
	Contains []string `yaml:"contains"`
	Code     string   `yaml:"code"`
}

// Validate checks the classifier document for structural errors.
func (d *ClassifierDoc) Validate() error {
	if d.UnknownCode == "" {
		return eris.New("rules: classifier: unknown_code is required")
	}
	for i, r := range d.Curated {
		if r.Family == "" || r.Type == "" {
			return eris.Errorf("rules: classifier: curated[%d]: family and type are required", i)
		}
		if r.Code == "" {
			return eris.Errorf("rules: classifier: curated[%d]: code is required", i)
		}
	}
	for i, r := range d.Structural {
		if r.Category == "" {
			return eris.Errorf("rules: classifier: structural[%d]: category is required", i)
		}
		if r.Code == "" {
			return eris.Errorf("rules: classifier: structural[%d]: code is required", i)
		}
	}
	for i, r := range d.Keywords {
		if len(r.Contains) == 0 {
			return eris.Errorf("rules: classifier: keywords[%d]: contains must not be empty", i)
		}
		for j, kw := range r.Contains {
			if kw == "" {
				return eris.Errorf("rules: classifier: keywords[%d].contains[%d]: empty keyword", i, j)
			}
		}
		if r.Code == "" {
			return eris.Errorf("rules: classifier: keywords[%d]: code is required", i)
		}
	}
	return nil
}

// RiskDoc is the on-disk rule document for the risk-flag engine. Each entry
// enables one of the built-in predicates under a configured severity.
type RiskDoc struct {
	Rules []RiskRule `yaml:"rules"`

	// Numeric thresholds shared by the dimensional predicates.
	DimensionToleranceMM float64 `yaml:"dimension_tolerance_mm"`
	AngleToleranceDeg    float64 `yaml:"angle_tolerance_deg"`
	StalePriceDays       int     `yaml:"stale_price_days"`
}

// RiskRule enables a named predicate with a severity.
type RiskRule struct {
	Name     string         `yaml:"name"`
	Severity model.Severity `yaml:"severity"`
}

// KnownRiskPredicates lists the predicate names the engine implements.
// A rule naming anything else is a configuration error.
var KnownRiskPredicates = []string{
	"unit_mismatch",
	"dimension_mismatch",
	"angle_mismatch",
	"material_mismatch",
	"classification_mismatch",
	"stale_price",
	"currency_ambiguous",
	"vendor_note_present",
}

// Validate checks the risk document for structural errors.
func (d *RiskDoc) Validate() error {
	known := make(map[string]bool, len(KnownRiskPredicates))
	for _, n := range KnownRiskPredicates {
		known[n] = true
	}

	seen := make(map[string]bool, len(d.Rules))
	for i, r := range d.Rules {
		if r.Name == "" {
			return eris.Errorf("rules: risk: rules[%d]: name is required", i)
		}
		if !known[r.Name] {
			return eris.Errorf("rules: risk: rules[%d]: unknown predicate %q", i, r.Name)
		}
		if seen[r.Name] {
			return eris.Errorf("rules: risk: rules[%d]: duplicate predicate %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.Severity != model.SeverityVeto && r.Severity != model.SeverityAdvisory {
			return eris.Errorf("rules: risk: rules[%d]: severity must be veto or advisory, got %q", i, r.Severity)
		}
	}
	if d.DimensionToleranceMM < 0 {
		return eris.New("rules: risk: dimension_tolerance_mm must not be negative")
	}
	if d.AngleToleranceDeg < 0 {
		return eris.New("rules: risk: angle_tolerance_deg must not be negative")
	}
	if d.StalePriceDays < 0 {
		return eris.New("rules: risk: stale_price_days must not be negative")
	}
	return nil
}

// DefaultRiskDoc returns the standard predicate set from the matching
// playbook: the five veto predicates plus the three advisories.
func DefaultRiskDoc() *RiskDoc {
	return &RiskDoc{
		Rules: []RiskRule{
			{Name: "unit_mismatch", Severity: model.SeverityVeto},
			{Name: "dimension_mismatch", Severity: model.SeverityVeto},
			{Name: "angle_mismatch", Severity: model.SeverityVeto},
			{Name: "material_mismatch", Severity: model.SeverityVeto},
			{Name: "classification_mismatch", Severity: model.SeverityVeto},
			{Name: "stale_price", Severity: model.SeverityAdvisory},
			{Name: "currency_ambiguous", Severity: model.SeverityAdvisory},
			{Name: "vendor_note_present", Severity: model.SeverityAdvisory},
		},
		DimensionToleranceMM: 5,
		AngleToleranceDeg:    5,
		StalePriceDays:       365,
	}
}
