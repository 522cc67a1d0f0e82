package ingest

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

// InboundEvent is the normalized form of one inbound message, regardless of
// which channel delivered it. Both the paired-socket channel and the
// webhook channel feed this shape into the pipeline.
type InboundEvent struct {
	TenantID uuid.UUID
	// IntegrationID is nil for channels not bound to a specific
	// integration row.
	IntegrationID     *uuid.UUID
	Channel           models.ChannelKind
	ExternalContactID string
	// ExternalMessageID is the channel's own message id, the dedup key.
	ExternalMessageID string
	Text              string
	DisplayName       string
	AvatarURL         *string
}

// Key is the serialization key: concurrent deliveries sharing it must not
// run the resolve steps in parallel.
func (e InboundEvent) Key() string {
	return e.TenantID.String() + ":" + string(e.Channel) + ":" + e.ExternalContactID
}
