// Package rank orders candidates by similarity to the item on a 0-100 scale.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/linden-group/costmatch-cli/internal/candidate"
	"github.com/linden-group/costmatch-cli/internal/canonical"
	"github.com/linden-group/costmatch-cli/internal/model"
)

// Scored pairs a candidate with its similarity score.
type Scored struct {
	Candidate candidate.Candidate
	Score     float64
}

// Config tunes the scoring blend. Text similarity contributes up to
// TextMax points; the exact-agreement bonuses supply the rest of the scale.
type Config struct {
	// MinScore drops candidates scoring below it.
	MinScore float64 `yaml:"min_score" mapstructure:"min_score"`
	// TokenWeight and EditWeight blend the two text measures; they are
	// normalized by their sum, so only the ratio matters.
	TokenWeight float64 `yaml:"token_weight" mapstructure:"token_weight"`
	EditWeight  float64 `yaml:"edit_weight" mapstructure:"edit_weight"`
	// TextMax is the score ceiling for a perfect text match.
	TextMax float64 `yaml:"text_max" mapstructure:"text_max"`
	// Additive bonuses for exact attribute agreement.
	DimensionBonus float64 `yaml:"dimension_bonus" mapstructure:"dimension_bonus"`
	MaterialBonus  float64 `yaml:"material_bonus" mapstructure:"material_bonus"`
	UnitBonus      float64 `yaml:"unit_bonus" mapstructure:"unit_bonus"`
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		MinScore:       40,
		TokenWeight:    0.6,
		EditWeight:     0.4,
		TextMax:        82,
		DimensionBonus: 8,
		MaterialBonus:  5,
		UnitBonus:      5,
	}
}

// Ranker scores and orders candidates.
type Ranker struct {
	cfg Config
}

// New creates a Ranker.
func New(cfg Config) *Ranker {
	if cfg.TokenWeight <= 0 && cfg.EditWeight <= 0 {
		cfg.TokenWeight = 0.6
		cfg.EditWeight = 0.4
	}
	if cfg.TextMax <= 0 {
		cfg.TextMax = 82
	}
	return &Ranker{cfg: cfg}
}

// Rank scores every candidate, drops those under the minimum, and returns
// the survivors ordered best-first. Deterministic for identical inputs;
// ties keep the candidates' input order.
func (r *Ranker) Rank(item *model.Item, candidates []candidate.Candidate) []Scored {
	var scored []Scored
	for _, c := range candidates {
		s := r.score(item, &c)
		if s < r.cfg.MinScore {
			continue
		}
		scored = append(scored, Scored{Candidate: c, Score: s})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// score computes the similarity score for one candidate.
func (r *Ranker) score(item *model.Item, c *candidate.Candidate) float64 {
	// Exact-identifier shortcut: a part number matching the catalog SKU is
	// as good as identity.
	if skuEqual(item.PartNumber, c.SKU) {
		return 100
	}

	itemText := canonical.NormalizeText(item.Family + " " + item.Type)
	candText := canonical.NormalizeText(c.Description)

	tw, ew := r.cfg.TokenWeight, r.cfg.EditWeight
	text := (tokenSimilarity(itemText, candText)*tw + editSimilarity(itemText, candText)*ew) / (tw + ew)

	score := text * r.cfg.TextMax

	if item.Dimensions() && dimensionsEqual(item, &c.PricedItem) {
		score += r.cfg.DimensionBonus
	}
	if m := canonical.NormalizeText(item.Material); m != "" && m == canonical.NormalizeText(c.Material) {
		score += r.cfg.MaterialBonus
	}
	if item.Unit != "" && c.Unit != "" &&
		canonical.NormalizeUnit(item.Unit) == canonical.NormalizeUnit(c.Unit) {
		score += r.cfg.UnitBonus
	}

	return math.Min(100, math.Round(score*100)/100)
}

// skuEqual compares identifiers ignoring case, spaces, and dashes.
func skuEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	clean := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
	}
	return clean(a) == clean(b)
}

// tokenSimilarity is the overlap coefficient on word sets of the normalized
// texts: intersection over the smaller set. Catalog descriptions are usually
// supersets of the item name (they append dimensions and vendor codes), and
// the overlap coefficient does not punish those extra tokens the way plain
// Jaccard would.
func tokenSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	return float64(intersection) / float64(smaller)
}

// editSimilarity converts Levenshtein distance to a 0-1 similarity.
func editSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// dimensionsEqual reports exact agreement on every dimension both sides
// declare. At least one shared dimension is required.
func dimensionsEqual(item *model.Item, pi *model.PricedItem) bool {
	pairs := [][2]*float64{
		{item.WidthMM, pi.WidthMM},
		{item.HeightMM, pi.HeightMM},
		{item.DiameterMM, pi.DiameterMM},
		{item.AngleDeg, pi.AngleDeg},
	}
	shared := 0
	for _, p := range pairs {
		if p[0] == nil || p[1] == nil {
			continue
		}
		shared++
		if math.Abs(*p[0]-*p[1]) > 1e-9 {
			return false
		}
	}
	return shared > 0
}
