package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

// IntegrationRepo defines the interface for integration repository operations
type IntegrationRepo interface {
	Create(ctx context.Context, integration *models.Integration) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	FindReusable(ctx context.Context, userID *uuid.UUID, channel models.ChannelKind) (*models.Integration, error)
	FindByExternalAddress(ctx context.Context, channel models.ChannelKind, address string) (*models.Integration, error)
	List(ctx context.Context) ([]models.Integration, error)
	SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IntegrationStatus, address *string) error
	ClearCredentialRef(ctx context.Context, tenantID, id uuid.UUID) error
	ListConnectedPaired(ctx context.Context) ([]models.Integration, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ContactRepo defines the interface for contact repository operations
type ContactRepo interface {
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, channel models.ChannelKind, externalID string) (*models.Contact, error)
	GetOrCreate(ctx context.Context, contact *models.Contact) (*models.Contact, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error)
	UpdateProfile(ctx context.Context, tenantID, id uuid.UUID, name string, avatarURL *string) error
}

// ConversationRepo defines the interface for conversation repository operations
type ConversationRepo interface {
	GetOrCreate(ctx context.Context, conversation *models.Conversation) (*models.Conversation, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	IncrementUnread(ctx context.Context, tenantID, id uuid.UUID) error
	MarkRead(ctx context.Context, id uuid.UUID) error
	TouchLastMessage(ctx context.Context, tenantID, id uuid.UUID) error
}

// MessageRepo defines the interface for message repository operations
type MessageRepo interface {
	Insert(ctx context.Context, message *models.Message) error
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, tenantID, id uuid.UUID, externalID string) error
}

// DealRepo defines the interface for deal repository operations
type DealRepo interface {
	CreateForContact(ctx context.Context, tenantID, contactID uuid.UUID, title string) (*models.Deal, error)
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]models.Deal, error)
}
