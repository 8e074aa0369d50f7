// Package model defines the core domain types used throughout the matching engine.
package model

import "time"

// TrustLevel identifies which tier of the classification hierarchy produced a code.
type TrustLevel string

const (
	TrustOverride   TrustLevel = "override"   // explicit code set on the item
	TrustCurated    TrustLevel = "curated"    // curated family/type lookup table
	TrustStructural TrustLevel = "structural" // category + subsystem rule
	TrustKeyword    TrustLevel = "keyword"    // substring heuristic
	TrustUnknown    TrustLevel = "unknown"    // fallback sentinel
)

// Item is a physical-asset record to be priced. Records arrive from the
// ingestion layer with the free-text and dimensional fields populated;
// ClassificationCode and CanonicalKey are filled in exactly once by the
// matching pipeline.
type Item struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`

	Family   string `json:"family"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	// Subsystem is the discipline-level system type (e.g. "cable_tray",
	// "ventilation") used by structural classification rules.
	Subsystem string `json:"subsystem,omitempty"`

	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`

	WidthMM    *float64 `json:"width_mm,omitempty"`
	HeightMM   *float64 `json:"height_mm,omitempty"`
	DiameterMM *float64 `json:"diameter_mm,omitempty"`
	AngleDeg   *float64 `json:"angle_deg,omitempty"`
	Material   string   `json:"material,omitempty"`

	// PartNumber is an optional vendor part number carried through from the
	// source model. When present it enables an exact-identifier match.
	PartNumber string `json:"part_number,omitempty"`

	// ClassOverride is an explicit classification code set by the modeler.
	// It is the highest trust level and wins over every rule table.
	ClassOverride string `json:"class_override,omitempty"`

	ClassificationCode string     `json:"classification_code,omitempty"`
	ClassifiedBy       TrustLevel `json:"classified_by,omitempty"`
	CanonicalKey       string     `json:"canonical_key,omitempty"`
}

// Dimensions reports whether the item carries any numeric dimension at all.
func (i *Item) Dimensions() bool {
	return i.WidthMM != nil || i.HeightMM != nil || i.DiameterMM != nil || i.AngleDeg != nil
}

// MappingEntry is one SCD Type-2 row of the mapping memory: the assignment of
// a canonical key to a priced catalog item over a validity interval.
// Rows are never updated in place and never deleted; a new write closes the
// previously active row and inserts a fresh one in the same transaction.
type MappingEntry struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	CanonicalKey string     `json:"canonical_key"`
	PricedItemID string     `json:"priced_item_id"`
	ValidFrom    time.Time  `json:"valid_from"`
	ValidTo      *time.Time `json:"valid_to,omitempty"` // nil = currently active
	CreatedBy    string     `json:"created_by"`
	Reason       string     `json:"reason"`
}

// Active reports whether the entry is the currently valid row for its key.
func (m *MappingEntry) Active() bool {
	return m.ValidTo == nil
}

// Covers reports whether ts falls inside the entry's validity interval
// [ValidFrom, ValidTo). An open-ended entry covers everything from ValidFrom.
func (m *MappingEntry) Covers(ts time.Time) bool {
	if ts.Before(m.ValidFrom) {
		return false
	}
	return m.ValidTo == nil || ts.Before(*m.ValidTo)
}
