package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

const conversationsTable = "conversations"

var conversationStruct = database.NewStruct(new(models.Conversation))

// ConversationRepository handles database operations for conversations
type ConversationRepository struct {
	*Repository
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db database.DB, logger ectologger.Logger) *ConversationRepository {
	return &ConversationRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *ConversationRepository) findByScope(ctx context.Context, tenantID uuid.UUID, channel models.ChannelKind, contactID uuid.UUID, integrationID *uuid.UUID) (*models.Conversation, error) {
	sb := conversationStruct.SelectFrom(conversationsTable)
	conds := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("channel", channel),
		sb.Equal("contact_id", contactID),
	}
	if integrationID != nil {
		conds = append(conds, sb.Equal("integration_id", *integrationID))
	} else {
		conds = append(conds, sb.IsNull("integration_id"))
	}
	sb.Where(conds...)

	query, args := sb.Build()
	var conversation models.Conversation
	err := r.DB().GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetOrCreate resolves the open conversation for (tenant, channel, contact,
// integration), creating it with a zero unread counter when absent. Unique
// conflicts from concurrent creation are re-resolved once.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, conversation *models.Conversation) (*models.Conversation, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetOrCreate")
	defer span.End()

	existing, err := r.findByScope(ctx, conversation.TenantID, conversation.Channel, conversation.ContactID, conversation.IntegrationID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to resolve conversation")
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(conversationsTable).
		Cols("id", "tenant_id", "channel", "contact_id", "integration_id", "unread_count", "last_message_at", "created_at", "updated_at").
		Values(conversation.ID, conversation.TenantID, conversation.Channel, conversation.ContactID, conversation.IntegrationID,
			0, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("unread_count", "last_message_at", "created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).
		Scan(&conversation.UnreadCount, &conversation.LastMessageAt, &conversation.CreatedAt, &conversation.UpdatedAt)
	if IsUniqueViolation(err) {
		existing, err = r.findByScope(ctx, conversation.TenantID, conversation.Channel, conversation.ContactID, conversation.IntegrationID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errors.New("conversation vanished after unique conflict")
		}
		return existing, false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": conversation.ContactID,
		}).Error("failed to create conversation")
		return nil, false, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": conversation.ID,
		"contact_id":      conversation.ContactID,
	}).Debugf("Created %s", conversationsTable)
	return conversation, true, nil
}

// GetByID retrieves a conversation by ID (tenant-scoped)
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var conversation models.Conversation
	err = r.DB().GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to get conversation by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conversation by ID")
	}

	return &conversation, nil
}

// IncrementUnread bumps the unread counter and refreshes the last-activity
// timestamp after an inbound message lands.
func (r *ConversationRepository) IncrementUnread(ctx context.Context, tenantID, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.IncrementUnread")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(conversationsTable).
		Set(
			ub.Assign("unread_count", sqlbuilder.Raw("unread_count + 1")),
			ub.Assign("last_message_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to increment unread counter")
		return err
	}
	return nil
}

// MarkRead zeroes the unread counter. This is the only path that does.
func (r *ConversationRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.MarkRead")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(conversationsTable).
		Set(
			ub.Assign("unread_count", 0),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to mark conversation read")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark conversation read")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "conversation %s does not exist", id)
	}
	return nil
}

// TouchLastMessage refreshes the last-activity timestamp without touching
// the unread counter (outbound sends).
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, tenantID, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.TouchLastMessage")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(conversationsTable).
		Set(
			ub.Assign("last_message_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to touch conversation")
		return err
	}
	return nil
}
