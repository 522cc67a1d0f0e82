package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups messages with one contact over one channel. At most
// one open conversation exists per (tenant, channel, contact, integration).
// The unread counter is incremented only by inbound ingestion and zeroed
// only by an explicit read action.
type Conversation struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	TenantID      uuid.UUID   `db:"tenant_id" json:"tenant_id"`
	Channel       ChannelKind `db:"channel" json:"channel"`
	ContactID     uuid.UUID   `db:"contact_id" json:"contact_id"`
	IntegrationID *uuid.UUID  `db:"integration_id" json:"integration_id,omitempty"`
	UnreadCount   int         `db:"unread_count" json:"unread_count"`
	LastMessageAt time.Time   `db:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Conversation) TableName() string {
	return "conversations"
}
