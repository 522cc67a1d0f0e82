package models

// ChannelKind identifies which external chat channel an integration talks to.
type ChannelKind string

const (
	// ChannelWhatsApp is the QR-paired, socket-based channel.
	ChannelWhatsApp ChannelKind = "whatsapp"
	// ChannelMessenger is the webhook-driven channel.
	ChannelMessenger ChannelKind = "messenger"
)

// IsValid reports whether the channel kind is one we support.
func (c ChannelKind) IsValid() bool {
	return c == ChannelWhatsApp || c == ChannelMessenger
}

// IsPaired reports whether the channel authenticates via a persistent
// device-paired session rather than a static API credential.
func (c ChannelKind) IsPaired() bool {
	return c == ChannelWhatsApp
}

// IntegrationStatus is the durable connectivity state of an integration.
type IntegrationStatus string

const (
	IntegrationConnected    IntegrationStatus = "connected"
	IntegrationDisconnected IntegrationStatus = "disconnected"
)
