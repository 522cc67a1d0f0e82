// Package ingest turns raw channel deliveries into contacts, conversations,
// messages, and first-touch deals. The pipeline is idempotent on the
// channel's message id and serializes per contact so concurrent deliveries
// cannot double-create records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

// Outcome labels for the ingest metrics.
const (
	OutcomeIngested  = "ingested"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

const (
	// distributedLockTTL bounds how long a crashed replica can block a
	// contact key.
	distributedLockTTL = 15 * time.Second

	distributedLockWait = 5 * time.Second
)

// ErrInvalidEvent is returned for events missing required identifiers.
var ErrInvalidEvent = errors.New("invalid inbound event")

// EventPublisher announces ingested messages to downstream consumers.
type EventPublisher interface {
	PublishMessageReceived(ctx context.Context, event kafka.MessageReceivedEvent) error
}

// DeadLetter receives events the pipeline could not ingest.
type DeadLetter interface {
	Add(ctx context.Context, entry *redis.DLQEntry) (string, error)
}

// DistributedLocker serializes contact resolution across replicas. Optional;
// the in-process keyed mutex always applies.
type DistributedLocker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration, timeout time.Duration) (*redis.Lock, error)
}

// Result reports what one event produced.
type Result struct {
	Contact        *models.Contact
	Conversation   *models.Conversation
	Message        *models.Message
	ContactCreated bool
	// Duplicate is true when the event's external message id was already
	// ingested. No records were written.
	Duplicate bool
	// Skipped is true when the event carried nothing to store.
	Skipped bool
}

// Pipeline resolves inbound events into CRM records.
type Pipeline struct {
	contacts      repositories.ContactRepo
	conversations repositories.ConversationRepo
	messages      repositories.MessageRepo
	deals         repositories.DealRepo
	publisher     EventPublisher
	dlq           DeadLetter
	locker        DistributedLocker
	keys          *KeyedMutex
	logger        ectologger.Logger
}

// NewPipeline creates an ingestion pipeline. publisher, dlq, and locker may
// be nil.
func NewPipeline(
	contacts repositories.ContactRepo,
	conversations repositories.ConversationRepo,
	messages repositories.MessageRepo,
	deals repositories.DealRepo,
	publisher EventPublisher,
	dlq DeadLetter,
	locker DistributedLocker,
	logger ectologger.Logger,
) *Pipeline {
	return &Pipeline{
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		deals:         deals,
		publisher:     publisher,
		dlq:           dlq,
		locker:        locker,
		keys:          NewKeyedMutex(),
		logger:        logger,
	}
}

// Ingest processes one inbound event end to end. It is safe to call
// concurrently with duplicate and near-duplicate deliveries; the second
// copy of a message reports Duplicate and writes nothing.
func (p *Pipeline) Ingest(ctx context.Context, event InboundEvent) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Pipeline.Ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", event.TenantID.String()),
		attribute.String("channel", string(event.Channel)),
	)

	start := time.Now()
	result, err := p.ingest(ctx, event)
	metrics.IngestDuration.WithLabelValues(string(event.Channel)).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.IngestEventsTotal.WithLabelValues(string(event.Channel), OutcomeFailed).Inc()
		p.deadLetter(ctx, event, err)
		return nil, err
	case result.Skipped:
		metrics.IngestEventsTotal.WithLabelValues(string(event.Channel), OutcomeSkipped).Inc()
	case result.Duplicate:
		metrics.IngestEventsTotal.WithLabelValues(string(event.Channel), OutcomeDuplicate).Inc()
	default:
		metrics.IngestEventsTotal.WithLabelValues(string(event.Channel), OutcomeIngested).Inc()
	}
	return result, nil
}

func (p *Pipeline) ingest(ctx context.Context, event InboundEvent) (*Result, error) {
	if event.TenantID == uuid.Nil || event.ExternalContactID == "" || event.ExternalMessageID == "" {
		return nil, fmt.Errorf("%w: missing tenant, contact, or message id", ErrInvalidEvent)
	}
	if !event.Channel.IsValid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidEvent, event.Channel)
	}
	// Media-only and reaction payloads arrive with no text. Nothing to
	// store yet, so they are dropped before any writes.
	if strings.TrimSpace(event.Text) == "" {
		return &Result{Skipped: true}, nil
	}

	// Fast dedup path. The unique index on external_id is the authority;
	// this just skips the resolve work for retried deliveries.
	exists, err := p.messages.ExistsByExternalID(ctx, event.ExternalMessageID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Result{Duplicate: true}, nil
	}

	key := event.Key()
	release := p.keys.Lock(key)
	defer release()

	if p.locker != nil {
		lock, err := p.locker.TryAcquire(ctx, key, distributedLockTTL, distributedLockWait)
		if err != nil {
			return nil, fmt.Errorf("failed to lock contact key: %w", err)
		}
		defer lock.Release(ctx)
	}

	contact, created, err := p.resolveContact(ctx, event)
	if err != nil {
		return nil, err
	}

	conversation, _, err := p.conversations.GetOrCreate(ctx, &models.Conversation{
		TenantID:      event.TenantID,
		Channel:       event.Channel,
		ContactID:     contact.ID,
		IntegrationID: event.IntegrationID,
	})
	if err != nil {
		return nil, err
	}

	externalID := event.ExternalMessageID
	message := &models.Message{
		TenantID:       event.TenantID,
		ConversationID: conversation.ID,
		Direction:      models.DirectionContact,
		Body:           event.Text,
		ExternalID:     &externalID,
		Delivered:      true,
	}
	if err := p.messages.Insert(ctx, message); err != nil {
		if errors.Is(err, repositories.ErrDuplicateMessage) {
			// Lost a race with another delivery of the same message. The
			// winner did the unread bump and the publish.
			return &Result{Contact: contact, Conversation: conversation, Duplicate: true}, nil
		}
		return nil, err
	}

	if err := p.conversations.IncrementUnread(ctx, event.TenantID, conversation.ID); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversation.ID,
		}).Error("failed to increment unread count")
	}

	p.publish(ctx, event, contact, conversation, message, created)

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":       event.TenantID,
		"channel":         event.Channel,
		"conversation_id": conversation.ID,
		"contact_created": created,
	}).Debug("Ingested inbound message")

	return &Result{
		Contact:        contact,
		Conversation:   conversation,
		Message:        message,
		ContactCreated: created,
	}, nil
}

// resolveContact finds or creates the contact for the event's sender. A
// brand new contact gets a first-touch deal so the sales funnel never
// misses an inbound lead.
func (p *Pipeline) resolveContact(ctx context.Context, event InboundEvent) (*models.Contact, bool, error) {
	name := strings.TrimSpace(event.DisplayName)
	if name == "" {
		name = event.ExternalContactID
	}

	contact, created, err := p.contacts.GetOrCreate(ctx, &models.Contact{
		TenantID:   event.TenantID,
		Channel:    event.Channel,
		ExternalID: event.ExternalContactID,
		Name:       name,
		Email:      placeholderEmail(event.Channel, event.ExternalContactID),
		AvatarURL:  event.AvatarURL,
		Status:     models.ContactStatusNew,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.ContactsCreatedTotal.WithLabelValues(string(event.Channel)).Inc()
		if _, err := p.deals.CreateForContact(ctx, event.TenantID, contact.ID, name); err != nil {
			// The contact and message still land; the deal can be added
			// by hand.
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"contact_id": contact.ID,
			}).Error("failed to create first-touch deal")
		}
	}

	return contact, created, nil
}

func (p *Pipeline) publish(ctx context.Context, event InboundEvent, contact *models.Contact, conversation *models.Conversation, message *models.Message, created bool) {
	if p.publisher == nil {
		return
	}

	err := p.publisher.PublishMessageReceived(ctx, kafka.MessageReceivedEvent{
		TenantID:       event.TenantID,
		IntegrationID:  event.IntegrationID,
		Channel:        string(event.Channel),
		ContactID:      contact.ID,
		ConversationID: conversation.ID,
		MessageID:      message.ID,
		ExternalID:     event.ExternalMessageID,
		ContactCreated: created,
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("failed to publish message event")
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, event InboundEvent, cause error) {
	if p.dlq == nil {
		return
	}

	reason := "ingest_error"
	if errors.Is(cause, ErrInvalidEvent) {
		reason = "invalid_event"
	}

	// The entry must round-trip the whole event: dropping the integration
	// id would replay the message into a differently scoped conversation.
	entry := &redis.DLQEntry{
		TenantID:          event.TenantID.String(),
		Channel:           string(event.Channel),
		ExternalContactID: event.ExternalContactID,
		ExternalMessageID: event.ExternalMessageID,
		Text:              event.Text,
		DisplayName:       event.DisplayName,
		AvatarURL:         event.AvatarURL,
		Reason:            reason,
		ErrorMessage:      cause.Error(),
	}
	if event.IntegrationID != nil {
		entry.IntegrationID = event.IntegrationID.String()
	}

	if _, err := p.dlq.Add(ctx, entry); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("failed to dead-letter inbound event")
		return
	}
	metrics.DLQEventsTotal.WithLabelValues(event.TenantID.String(), reason).Inc()
}

// placeholderEmail synthesizes a unique, obviously fake address for
// channels with no email concept. The .invalid TLD can never be routed.
func placeholderEmail(channel models.ChannelKind, externalID string) string {
	id := strings.ToLower(externalID)
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
	return fmt.Sprintf("%s@%s.invalid", id, channel)
}
