package models

import (
	"time"

	"github.com/google/uuid"
)

// DealStatus tracks a deal through the pipeline.
type DealStatus string

const (
	DealStatusInProgress DealStatus = "in_progress"
	DealStatusWon        DealStatus = "won"
	DealStatusLost       DealStatus = "lost"
)

// Deal seeds the sales pipeline. Ingestion auto-creates exactly one per
// newly created contact, with zero amount.
type Deal struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	TenantID  uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	ContactID uuid.UUID  `db:"contact_id" json:"contact_id"`
	Title     string     `db:"title" json:"title"`
	// AmountCents is the deal value in the tenant's base currency.
	AmountCents int64      `db:"amount_cents" json:"amount_cents"`
	Status      DealStatus `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Deal) TableName() string {
	return "deals"
}
