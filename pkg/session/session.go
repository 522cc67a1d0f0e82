package session

import (
	"github.com/google/uuid"
)

// Status is the runtime connection state of one integration's session.
type Status string

const (
	StatusConnecting      Status = "connecting"
	StatusAwaitingPairing Status = "awaiting_pairing"
	StatusConnected       Status = "connected"
	StatusDisconnected    Status = "disconnected"
)

// Session is the runtime-only state of one connection attempt. It is never
// persisted verbatim; on restart it is reconstructed from the integration
// row and the credential store. Exactly one session exists per integration
// id at any time.
type Session struct {
	IntegrationID uuid.UUID
	TenantID      uuid.UUID
	UserID        uuid.UUID

	Status Status
	// PairingArtifact is the latest QR payload, nil once connected.
	PairingArtifact []byte
	// Address is the channel-side address reported on connect.
	Address string
	// RetryCount counts consecutive transient drops.
	RetryCount int
}

// Snapshot is a copy of session state safe to hand out of the registry.
type Snapshot struct {
	IntegrationID   uuid.UUID `json:"integration_id"`
	Status          Status    `json:"status"`
	PairingArtifact []byte    `json:"pairing_artifact,omitempty"`
	Address         string    `json:"address,omitempty"`
	RetryCount      int       `json:"retry_count"`
}

func (s *Session) snapshot() Snapshot {
	var artifact []byte
	if s.PairingArtifact != nil {
		artifact = append([]byte(nil), s.PairingArtifact...)
	}
	return Snapshot{
		IntegrationID:   s.IntegrationID,
		Status:          s.Status,
		PairingArtifact: artifact,
		Address:         s.Address,
		RetryCount:      s.RetryCount,
	}
}
