// Package canonical derives the deterministic identity key that lets the
// mapping memory recognize "the same real-world part" across projects.
package canonical

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// noiseTokens are project/revision artifacts that leak into family and type
// names from authoring tools and must not fragment identical parts into
// different keys.
var noiseTokens = regexp.MustCompile(`(?i)(\b(rev\.?\s*[a-z0-9]+|r[0-9]{1,3}|v[0-9]{1,3}(\.[0-9]+)*|copy(\s+of)?)\b|\(\d+\))`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// stripMarks removes combining marks left behind by canonical decomposition,
// so "Kabelträger" and "Kabeltrager" normalize identically.
var stripMarks = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeText lowercases, decomposes Unicode, strips revision noise and
// punctuation, and collapses whitespace. Deterministic by construction.
func NormalizeText(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}

	s = noiseTokens.ReplaceAllString(s, " ")
	s = strings.NewReplacer(
		",", " ",
		".", " ",
		";", " ",
		"_", " ",
		"-", " ",
		"/", " ",
		"(", " ",
		")", " ",
		"\"", " ",
		"'", "",
	).Replace(s)

	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// unitVocab folds the unit spellings seen in source models and vendor feeds
// into a small closed vocabulary.
var unitVocab = map[string]string{
	"ea": "ea", "each": "ea", "pc": "ea", "pcs": "ea", "piece": "ea",
	"pieces": "ea", "st": "ea", "stk": "ea", "stück": "ea", "stuck": "ea",
	"unit": "ea", "units": "ea", "no": "ea", "nr": "ea",

	"m": "m", "meter": "m", "meters": "m", "metre": "m", "metres": "m",
	"lm": "m", "lfm": "m", "ml": "m",

	"m2": "m2", "sqm": "m2", "m²": "m2", "sq m": "m2", "sq.m": "m2",

	"m3": "m3", "cbm": "m3", "m³": "m3",

	"kg": "kg", "kgs": "kg", "kilogram": "kg",

	"l": "l", "lt": "l", "ltr": "l", "liter": "l", "litre": "l",

	"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",

	"set": "set", "sets": "set",
	"lot": "lot", "ls": "lot", "lump sum": "lot",
}

// NormalizeUnit maps a free-text unit to the closed vocabulary. Unknown
// units pass through lowercased so they still compare consistently.
func NormalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if canon, ok := unitVocab[u]; ok {
		return canon
	}
	return u
}

// UnitsCompatible reports whether two units normalize to the same vocabulary
// entry. A missing unit on either side is treated as compatible — absence is
// not evidence of a mismatch.
func UnitsCompatible(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return true
	}
	return NormalizeUnit(a) == NormalizeUnit(b)
}

// RoundToGrid snaps v to the nearest multiple of grid so measurement noise
// below the grid size cannot fragment identical parts. A non-positive grid
// disables rounding.
func RoundToGrid(v, grid float64) float64 {
	if grid <= 0 {
		return v
	}
	return math.Round(v/grid) * grid
}

// formatDim renders a rounded dimension for key assembly. Trailing zeros are
// trimmed so 200.0 and 200 produce the same component.
func formatDim(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
