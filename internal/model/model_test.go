package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fptr(v float64) *float64 { return &v }

func TestMappingEntryCovers(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	closed := MappingEntry{ValidFrom: from, ValidTo: &to}
	assert.False(t, closed.Covers(from.Add(-time.Second)))
	assert.True(t, closed.Covers(from), "interval start is inclusive")
	assert.True(t, closed.Covers(to.Add(-time.Second)))
	assert.False(t, closed.Covers(to), "interval end is exclusive")
	assert.False(t, closed.Active())

	open := MappingEntry{ValidFrom: from}
	assert.True(t, open.Covers(to.Add(24*time.Hour)))
	assert.True(t, open.Active())
}

func TestHasVeto(t *testing.T) {
	assert.False(t, HasVeto(nil))
	assert.False(t, HasVeto([]Flag{{Type: "stale_price", Severity: SeverityAdvisory}}))
	assert.True(t, HasVeto([]Flag{
		{Type: "stale_price", Severity: SeverityAdvisory},
		{Type: "unit_mismatch", Severity: SeverityVeto},
	}))
}

func TestItemDimensions(t *testing.T) {
	assert.False(t, (&Item{}).Dimensions())
	assert.True(t, (&Item{WidthMM: fptr(200)}).Dimensions())
	assert.True(t, (&Item{AngleDeg: fptr(90)}).Dimensions())
}
