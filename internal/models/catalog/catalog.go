package catalog

import "github.com/shopspring/decimal"

// Product is the authoritative catalog record a line item snapshots
// at order time. Client-supplied names and prices are never trusted.
type Product struct {
	ID       string          `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	ImageURL string          `db:"image_url" json:"image_url"`
}
