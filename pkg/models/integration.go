package models

import (
	"time"

	"github.com/google/uuid"
)

// Integration is the durable record of one tenant's connection to one
// external channel. At most one runtime session exists per integration id;
// the runtime state itself is never persisted here.
type Integration struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TenantID uuid.UUID `db:"tenant_id" json:"tenant_id"`
	// UserID is set for user-owned channels (the paired channel); nil for
	// tenant-wide channels.
	UserID  *uuid.UUID        `db:"user_id" json:"user_id,omitempty"`
	Channel ChannelKind       `db:"channel" json:"channel"`
	Status  IntegrationStatus `db:"status" json:"status"`
	// CredentialRef is an opaque credential reference: an API key for
	// webhook channels, a credential-store path for paired channels.
	CredentialRef *string `db:"credential_ref" json:"-"`
	// ExternalAddress is the channel-side identity: page id for webhook
	// channels, phone number for the paired channel.
	ExternalAddress *string   `db:"external_address" json:"external_address,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Integration) TableName() string {
	return "integrations"
}
