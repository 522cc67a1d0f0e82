package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/webhook"
)

// Ingestor processes one inbound event.
type Ingestor interface {
	Ingest(ctx context.Context, event ingest.InboundEvent) (*ingest.Result, error)
}

// WebhookHandler receives messenger channel deliveries. It runs outside
// tenant authentication; the HMAC signature is the only trust anchor, and
// the tenant is resolved per event from the receiving page address.
type WebhookHandler struct {
	auth         *webhook.Authenticator
	integrations repositories.IntegrationRepo
	pipeline     Ingestor
	logger       ectologger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(auth *webhook.Authenticator, integrations repositories.IntegrationRepo, pipeline Ingestor, logger ectologger.Logger) *WebhookHandler {
	return &WebhookHandler{
		auth:         auth,
		integrations: integrations,
		pipeline:     pipeline,
		logger:       logger,
	}
}

// ReceiveResponse summarizes what a delivery produced.
type ReceiveResponse struct {
	Received int `json:"received"`
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
}

// RegisterRoutes registers the webhook routes on the unauthenticated root.
func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/webhooks/messenger", h.Subscribe)
	e.POST("/webhooks/messenger", h.Receive)
}

// Subscribe handles the GET verification handshake the channel performs
// when the endpoint is registered.
func (h *WebhookHandler) Subscribe(c echo.Context) error {
	challenge, ok := h.auth.VerifySubscription(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
	)
	if !ok {
		return Unauthorized("verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Receive handles POST deliveries. The signature is checked over the raw
// body before any decoding. Once authenticated, each event is processed in
// isolation so one bad entry cannot poison the batch; the channel gets a
// 200 either way, since re-delivery would just repeat the failure.
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequest("failed to read request body")
	}

	if err := h.auth.Verify(body, c.Request().Header.Get(webhook.SignatureHeader)); err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("rejected webhook delivery")
		return Unauthorized("signature verification failed")
	}

	messages, err := webhook.ParsePayload(body)
	if err != nil {
		return BadRequest(err.Error())
	}

	resp := ReceiveResponse{Received: len(messages)}
	for _, msg := range messages {
		integration, err := h.integrations.FindByExternalAddress(ctx, models.ChannelMessenger, msg.PageID)
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"page_id": msg.PageID,
			}).Error("failed to resolve webhook integration")
			resp.Skipped++
			continue
		}
		if integration == nil {
			// Deliveries for pages no tenant has connected. Normal after
			// a disconnect; the subscription lags the integration.
			h.logger.WithContext(ctx).WithField("page_id", msg.PageID).Debug("Ignoring delivery for unknown page")
			resp.Skipped++
			continue
		}

		integrationID := integration.ID
		result, err := h.pipeline.Ingest(ctx, ingest.InboundEvent{
			TenantID:          integration.TenantID,
			IntegrationID:     &integrationID,
			Channel:           models.ChannelMessenger,
			ExternalContactID: msg.SenderID,
			ExternalMessageID: msg.ExternalMessageID,
			Text:              msg.Text,
		})
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"external_message_id": msg.ExternalMessageID,
			}).Error("failed to ingest webhook message")
			resp.Skipped++
			continue
		}
		if result.Skipped || result.Duplicate {
			resp.Skipped++
			continue
		}
		resp.Ingested++
	}

	return SuccessResponse(c, resp)
}
