package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricedItem is a catalog entry supplied by a vendor price feed.
type PricedItem struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	ClassificationCode string          `json:"classification_code"`
	VendorID           string          `json:"vendor_id"`
	SKU                string          `json:"sku"`
	Description        string          `json:"description"`
	Unit               string          `json:"unit"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Currency           string          `json:"currency"`

	WidthMM    *float64 `json:"width_mm,omitempty"`
	HeightMM   *float64 `json:"height_mm,omitempty"`
	DiameterMM *float64 `json:"diameter_mm,omitempty"`
	AngleDeg   *float64 `json:"angle_deg,omitempty"`
	Material   string   `json:"material,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
	VendorNote  string    `json:"vendor_note,omitempty"`
}
