package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/linden-group/costmatch-cli/internal/model"
)

// keyLength is the hex length of a canonical key: 16 bytes of SHA-256, which
// keeps collision odds negligible for catalog-scale key spaces. The key is a
// map key, not a security token.
const keyLength = 32

// Builder derives canonical keys from normalized item attributes. Tolerance
// grids decide how coarsely dimensions are snapped before hashing.
type Builder struct {
	DimensionGridMM float64
	AngleGridDeg    float64
}

// NewBuilder creates a Builder with the given tolerance grids.
func NewBuilder(dimensionGridMM, angleGridDeg float64) *Builder {
	return &Builder{DimensionGridMM: dimensionGridMM, AngleGridDeg: angleGridDeg}
}

// Key returns the deterministic identity key for an item. Classification
// must already be assigned; the builder never re-runs or alters it.
func (b *Builder) Key(item *model.Item) (string, error) {
	if item.ClassificationCode == "" {
		return "", eris.Errorf("canonical: item %s has no classification code", item.ID)
	}

	parts := []string{
		item.ClassificationCode,
		NormalizeText(item.Family),
		NormalizeText(item.Type),
		NormalizeUnit(item.Unit),
	}

	if item.WidthMM != nil {
		parts = append(parts, "w="+formatDim(RoundToGrid(*item.WidthMM, b.DimensionGridMM)))
	}
	if item.HeightMM != nil {
		parts = append(parts, "h="+formatDim(RoundToGrid(*item.HeightMM, b.DimensionGridMM)))
	}
	if item.DiameterMM != nil {
		parts = append(parts, "d="+formatDim(RoundToGrid(*item.DiameterMM, b.DimensionGridMM)))
	}
	if item.AngleDeg != nil {
		parts = append(parts, "a="+formatDim(RoundToGrid(*item.AngleDeg, b.AngleGridDeg)))
	}
	if m := NormalizeText(item.Material); m != "" {
		parts = append(parts, "mat="+m)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:keyLength], nil
}
