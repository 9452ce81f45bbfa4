package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MarkdownStep is one step-down pricing rule: once time-to-expiry falls at or
// below HoursRemaining, DiscountPercent applies to the base price.
type MarkdownStep struct {
	HoursRemaining   float64 `json:"hours_remaining"`
	DiscountPercent  float64 `json:"discount_percent"`
}

// MarkdownSteps is stored as a JSONB column.
type MarkdownSteps []MarkdownStep

func (m MarkdownSteps) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *MarkdownSteps) Scan(src interface{}) error {
	return scanJSONB(src, m)
}

// BulkPriceTier grants DiscountPercent when the ordered quantity reaches
// MinQuantity. Tiers stack on top of the strategy price, not on each other.
type BulkPriceTier struct {
	MinQuantity     float64 `json:"min_quantity"`
	DiscountPercent float64 `json:"discount_percent"`
}

// BulkPriceTiers is stored as a JSONB column.
type BulkPriceTiers []BulkPriceTier

func (t BulkPriceTiers) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *BulkPriceTiers) Scan(src interface{}) error {
	return scanJSONB(src, t)
}

// Metadata is a free-form JSONB column used by metrics.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	return scanJSONB(src, m)
}

func scanJSONB(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}
