// Package dispatch routes outbound messages to the channel that owns their
// conversation. The local record is written before the network send, so a
// failed send still shows up in the conversation as undelivered.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/session"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

var (
	// ErrChannelNotConnected is returned when the conversation's channel
	// has no usable session or credential. The outbound message is still
	// recorded locally, marked undelivered.
	ErrChannelNotConnected = errors.New("channel not connected")

	// ErrEmptyMessage is returned for sends with no text.
	ErrEmptyMessage = errors.New("message text is empty")
)

// SessionSender relays text over a live paired session.
type SessionSender interface {
	Send(ctx context.Context, integrationID uuid.UUID, address, text string) (string, error)
}

// APISender sends text through a webhook channel's HTTP API.
type APISender interface {
	SendText(ctx context.Context, accessToken, recipientID, text string) (string, error)
}

// Dispatcher sends outbound messages and records them.
type Dispatcher struct {
	conversations repositories.ConversationRepo
	contacts      repositories.ContactRepo
	messages      repositories.MessageRepo
	integrations  repositories.IntegrationRepo
	sessions      SessionSender
	api           APISender
	logger        ectologger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	conversations repositories.ConversationRepo,
	contacts repositories.ContactRepo,
	messages repositories.MessageRepo,
	integrations repositories.IntegrationRepo,
	sessions SessionSender,
	api APISender,
	logger ectologger.Logger,
) *Dispatcher {
	return &Dispatcher{
		conversations: conversations,
		contacts:      contacts,
		messages:      messages,
		integrations:  integrations,
		sessions:      sessions,
		api:           api,
		logger:        logger,
	}
}

// Send records an outbound message on the conversation and relays it over
// the owning channel. When the relay fails the message stays recorded with
// Delivered false and the error is returned.
func (d *Dispatcher) Send(ctx context.Context, tenantID, conversationID uuid.UUID, text string) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.Dispatcher.Send")
	defer span.End()

	span.SetAttributes(attribute.String("conversation_id", conversationID.String()))

	if text == "" {
		return nil, ErrEmptyMessage
	}

	conversation, err := d.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	contact, err := d.contacts.GetByID(ctx, conversation.ContactID)
	if err != nil {
		return nil, err
	}

	// Record first. A network failure after this point leaves an
	// undelivered message the user can retry, never a sent message with
	// no record.
	outbound := &models.Message{
		TenantID:       tenantID,
		ConversationID: conversation.ID,
		Direction:      models.DirectionUser,
		Body:           text,
		Delivered:      false,
	}
	if err := d.messages.Insert(ctx, outbound); err != nil {
		return nil, err
	}

	externalID, sendErr := d.relay(ctx, conversation, contact, text)
	if sendErr != nil {
		metrics.DispatchTotal.WithLabelValues(string(conversation.Channel), "failed").Inc()
		d.logger.WithContext(ctx).WithError(sendErr).WithFields(map[string]any{
			"conversation_id": conversation.ID,
			"channel":         conversation.Channel,
		}).Warn("outbound send failed, message recorded undelivered")
		return outbound, sendErr
	}

	if err := d.messages.MarkDelivered(ctx, tenantID, outbound.ID, externalID); err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("failed to mark message delivered")
	} else {
		outbound.Delivered = true
		outbound.ExternalID = &externalID
	}

	if err := d.conversations.TouchLastMessage(ctx, tenantID, conversation.ID); err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("failed to touch conversation")
	}

	metrics.DispatchTotal.WithLabelValues(string(conversation.Channel), "sent").Inc()
	return outbound, nil
}

func (d *Dispatcher) relay(ctx context.Context, conversation *models.Conversation, contact *models.Contact, text string) (string, error) {
	switch {
	case conversation.Channel.IsPaired():
		if conversation.IntegrationID == nil || d.sessions == nil {
			return "", ErrChannelNotConnected
		}
		externalID, err := d.sessions.Send(ctx, *conversation.IntegrationID, contact.ExternalID, text)
		if errors.Is(err, session.ErrNotConnected) {
			return "", ErrChannelNotConnected
		}
		return externalID, err

	case conversation.Channel == models.ChannelMessenger:
		if conversation.IntegrationID == nil || d.api == nil {
			return "", ErrChannelNotConnected
		}
		integration, err := d.integrations.GetByID(ctx, *conversation.IntegrationID)
		if err != nil {
			return "", err
		}
		// The credential reference for webhook channels is the page
		// access token.
		if integration.CredentialRef == nil || *integration.CredentialRef == "" {
			return "", ErrChannelNotConnected
		}
		return d.api.SendText(ctx, *integration.CredentialRef, contact.ExternalID, text)

	default:
		return "", fmt.Errorf("unsupported channel: %s", conversation.Channel)
	}
}
