package model

import "time"

// Severity grades a risk flag.
type Severity string

const (
	SeverityVeto     Severity = "veto"     // unconditionally blocks auto-acceptance
	SeverityAdvisory Severity = "advisory" // recorded, does not block
)

// Flag is a named risk signal raised for one candidate evaluation.
type Flag struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// HasVeto reports whether any flag in the list carries veto severity.
func HasVeto(flags []Flag) bool {
	for _, f := range flags {
		if f.Severity == SeverityVeto {
			return true
		}
	}
	return false
}

// Decision is the terminal outcome of one match attempt.
type Decision string

const (
	DecisionAutoAccepted Decision = "auto-accepted"
	DecisionManualReview Decision = "manual-review"
	DecisionRejected     Decision = "rejected"
)

// Provenance records how the chosen priced item was found.
type Provenance string

const (
	ProvenanceMemoryHit       Provenance = "memory-hit"
	ProvenanceRankedCandidate Provenance = "ranked-candidate"
)

// RankedCandidate is one scored suggestion retained on a match result so a
// reviewer can see the alternatives the router considered.
type RankedCandidate struct {
	PricedItemID string  `json:"priced_item_id"`
	SKU          string  `json:"sku"`
	Score        float64 `json:"score"`
	OutOfClass   bool    `json:"out_of_class,omitempty"`
	Flags        []Flag  `json:"flags,omitempty"`
}

// MatchResult is the append-only audit record of one orchestration run for
// one item. An item may accumulate many results over time; only the latest
// is authoritative for current status.
type MatchResult struct {
	ID                 string            `json:"id"`
	TenantID           string            `json:"tenant_id"`
	ItemID             string            `json:"item_id"`
	ProjectID          string            `json:"project_id"`
	CanonicalKey       string            `json:"canonical_key,omitempty"`
	ClassificationCode string            `json:"classification_code,omitempty"`
	PricedItemID       string            `json:"priced_item_id,omitempty"` // empty = no item chosen
	Confidence         float64           `json:"confidence"`               // 0-100
	Flags              []Flag            `json:"flags,omitempty"`
	Candidates         []RankedCandidate `json:"candidates,omitempty"`
	Decision           Decision          `json:"decision"`
	Provenance         Provenance        `json:"provenance,omitempty"`
	Reason             string            `json:"reason"`
	Actor              string            `json:"actor"`
	CreatedAt          time.Time         `json:"created_at"`
}
