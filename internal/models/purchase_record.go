package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PurchaseStatus string

const (
	PurchaseOpen      PurchaseStatus = "open"
	PurchasePurchased PurchaseStatus = "purchased"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseAbandoned PurchaseStatus = "abandoned"
)

// PurchaseRecord is one purchase attempt in the local journal.
type PurchaseRecord struct {
	bun.BaseModel `bun:"table:purchase_attempts"`

	ReservationID string         `bun:"reservation_id,pk" json:"reservation_id"`
	ProductID     string         `bun:"product_id,notnull" json:"product_id"`
	Quantity      int            `bun:"quantity" json:"quantity"`
	Seats         string         `bun:"seats" json:"seats"` // comma separated seat codes
	Total         float64        `bun:"total" json:"total"`
	Status        PurchaseStatus `bun:"status,notnull" json:"status"`
	PNR           string         `bun:"pnr,nullzero" json:"pnr,omitempty"`
	Message       string         `bun:"message,nullzero" json:"message,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}
