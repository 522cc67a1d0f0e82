package models

import (
	"time"

	"github.com/google/uuid"
)

// ContactStatus tracks where a contact sits in the funnel.
type ContactStatus string

const (
	ContactStatusNew      ContactStatus = "new"
	ContactStatusActive   ContactStatus = "active"
	ContactStatusArchived ContactStatus = "archived"
)

// Contact is an external chat identity resolved to a local record. The
// external id is unique within a (tenant, channel) pair, never globally:
// two tenants may see the same external user.
type Contact struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	TenantID   uuid.UUID     `db:"tenant_id" json:"tenant_id"`
	Channel    ChannelKind   `db:"channel" json:"channel"`
	ExternalID string        `db:"external_id" json:"external_id"`
	Name       string        `db:"name" json:"name"`
	// Email is synthesized for channels with no email concept.
	Email     string        `db:"email" json:"email"`
	AvatarURL *string       `db:"avatar_url" json:"avatar_url,omitempty"`
	Status    ContactStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Contact) TableName() string {
	return "contacts"
}
