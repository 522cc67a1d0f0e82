package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

const messagesTable = "messages"

var messageStruct = database.NewStruct(new(models.Message))

// MessageRepository handles database operations for messages
type MessageRepository struct {
	*Repository
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db database.DB, logger ectologger.Logger) *MessageRepository {
	return &MessageRepository{
		Repository: NewRepository(db, logger),
	}
}

// Insert appends a message. When the message carries an external id the
// insert runs ON CONFLICT DO NOTHING against the unique index on it; a
// deduped insert returns ErrDuplicateMessage so callers can skip the side
// effects that only a first delivery earns (unread counters, events).
func (r *MessageRepository) Insert(ctx context.Context, message *models.Message) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.Insert")
	defer span.End()

	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(messagesTable).
		Cols("id", "tenant_id", "conversation_id", "direction", "body", "external_id", "delivered", "created_at").
		Values(message.ID, message.TenantID, message.ConversationID, message.Direction, message.Body,
			message.ExternalID, message.Delivered, sqlbuilder.Raw("NOW()"))
	ib.OnConflictDoNothing()
	ib.SQL("RETURNING created_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&message.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: no row inserted, the external id was seen before.
		return ErrDuplicateMessage
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": message.ConversationID,
		}).Error("failed to insert message")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
		"direction":       message.Direction,
	}).Debugf("Created %s", messagesTable)
	return nil
}

// ExistsByExternalID reports whether a message with this external id was
// already ingested, anywhere. This is the fast path of deduplication; the
// unique index backs it under concurrency.
func (r *MessageRepository) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ExistsByExternalID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("1").From(messagesTable)
	sb.Where(sb.Equal("external_id", externalID))
	sb.Limit(1)

	query, args := sb.Build()
	var one int
	err := r.DB().GetContext(ctx, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": externalID,
		}).Error("failed to check message existence")
		return false, err
	}
	return true, nil
}

// ListByConversation returns messages for a conversation (tenant-scoped),
// newest last.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ListByConversation")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("conversation_id", conversationID))
	sb.OrderBy("created_at").Asc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var messages []models.Message
	if err := r.DB().SelectContext(ctx, &messages, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversationID,
		}).Error("failed to list messages")
		return nil, err
	}

	return messages, nil
}

// MarkDelivered stamps the external id returned by the transport on an
// outbound message and flips the delivered flag.
func (r *MessageRepository) MarkDelivered(ctx context.Context, tenantID, id uuid.UUID, externalID string) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.MarkDelivered")
	defer span.End()

	ub := database.NewUpdateBuilder()
	assignments := []string{ub.Assign("delivered", true)}
	if externalID != "" {
		assignments = append(assignments, ub.Assign("external_id", externalID))
	}
	ub.Update(messagesTable).
		Set(assignments...).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_id": id,
		}).Error("failed to mark message delivered")
		return err
	}
	return nil
}
