package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ramsey-B/stem/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers      []string
	MessageTopic string
	SessionTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, messageTopic string, sessionTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:      brokerList,
		MessageTopic: messageTopic,
		SessionTopic: sessionTopic,
	}
}

// Producer publishes platform events for downstream consumers (dashboards,
// entity staging) when messages land and sessions change durable state.
type Producer struct {
	messageWriter *kafka.Writer
	sessionWriter *kafka.Writer
	logger        ectologger.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	messageWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.MessageTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	sessionWriter := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.SessionTopic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		messageWriter: messageWriter,
		sessionWriter: sessionWriter,
		logger:        logger,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	var firstErr error
	if err := p.messageWriter.Close(); err != nil {
		firstErr = err
	}
	if p.sessionWriter != nil {
		if err := p.sessionWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MessageReceivedEvent announces one ingested inbound message.
type MessageReceivedEvent struct {
	TenantID       uuid.UUID  `json:"tenant_id"`
	IntegrationID  *uuid.UUID `json:"integration_id,omitempty"`
	Channel        string     `json:"channel"`
	ContactID      uuid.UUID  `json:"contact_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	MessageID      uuid.UUID  `json:"message_id"`
	ExternalID     string     `json:"external_id"`
	ContactCreated bool       `json:"contact_created"`
	ReceivedAt     time.Time  `json:"received_at"`
	TraceParent    string     `json:"trace_parent,omitempty"`
}

// SessionStatusEvent announces a durable session transition.
type SessionStatusEvent struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	UserID        uuid.UUID `json:"user_id"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	Address       string    `json:"address,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	TraceParent   string    `json:"trace_parent,omitempty"`
}

// PublishMessageReceived publishes a message event, keyed by conversation so
// consumers see each conversation in order.
func (p *Producer) PublishMessageReceived(ctx context.Context, event MessageReceivedEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishMessageReceived")
	defer span.End()

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	event.TraceParent = tracing.GetTraceParent(ctx)

	span.SetAttributes(
		attribute.String("tenant_id", event.TenantID.String()),
		attribute.String("conversation_id", event.ConversationID.String()),
	)

	return p.publish(ctx, span, p.messageWriter, event.ConversationID.String(), event)
}

// PublishSessionStatus publishes a session transition, keyed by integration.
func (p *Producer) PublishSessionStatus(ctx context.Context, event SessionStatusEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSessionStatus")
	defer span.End()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.TraceParent = tracing.GetTraceParent(ctx)

	span.SetAttributes(
		attribute.String("integration_id", event.IntegrationID.String()),
		attribute.String("status", event.Status),
	)

	return p.publish(ctx, span, p.sessionWriter, event.IntegrationID.String(), event)
}

func (p *Producer) publish(ctx context.Context, span trace.Span, writer *kafka.Writer, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if tp := tracing.GetTraceParent(ctx); tp != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "traceparent", Value: []byte(tp)})
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic": writer.Topic,
			"key":   key,
		}).Error("failed to publish event")
		return fmt.Errorf("failed to publish event to %s: %w", writer.Topic, err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": writer.Topic,
		"key":   key,
	}).Debug("Published event")
	return nil
}
