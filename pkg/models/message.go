package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageDirection says who authored a message.
type MessageDirection string

const (
	// DirectionContact is an inbound message from the external contact.
	DirectionContact MessageDirection = "contact"
	// DirectionUser is an outbound message composed by a platform user.
	DirectionUser MessageDirection = "user"
)

// Message belongs to exactly one conversation. ExternalID is the sending
// channel's own message id; it is unique when present and is the
// deduplication key for inbound ingestion.
type Message struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	TenantID       uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	ConversationID uuid.UUID        `db:"conversation_id" json:"conversation_id"`
	Direction      MessageDirection `db:"direction" json:"direction"`
	Body           string           `db:"body" json:"body"`
	ExternalID     *string          `db:"external_id" json:"external_id,omitempty"`
	// Delivered is false for outbound messages recorded while the channel
	// had no live transport.
	Delivered bool      `db:"delivered" json:"delivered"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Message) TableName() string {
	return "messages"
}
