package models

import (
	"time"

	"github.com/lib/pq"
)

// Variant is the product variant a listing sells. Taxon IDs drive the
// taxonomy filter in search and watch matching.
type Variant struct {
	ID          int64         `db:"id" json:"id"`
	ProductName string        `db:"product_name" json:"productName"`
	SKU         string        `db:"sku" json:"sku"`
	TaxonIDs    pq.Int64Array `db:"taxon_ids" json:"taxonIds,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"-"`
}
