package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/dispatch"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

const defaultMessageLimit = 50

// Sender dispatches an outbound message on a conversation.
type Sender interface {
	Send(ctx context.Context, tenantID, conversationID uuid.UUID, text string) (*models.Message, error)
}

// MessageHandler handles conversation message requests.
type MessageHandler struct {
	dispatcher    Sender
	conversations repositories.ConversationRepo
	messages      repositories.MessageRepo
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(dispatcher Sender, conversations repositories.ConversationRepo, messages repositories.MessageRepo) *MessageHandler {
	return &MessageHandler{
		dispatcher:    dispatcher,
		conversations: conversations,
		messages:      messages,
	}
}

// SendMessageRequest is the request body for sending a message
type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// RegisterRoutes registers the message routes
func (h *MessageHandler) RegisterRoutes(g *echo.Group) {
	conversations := g.Group("/conversations")
	conversations.POST("/:id/messages", h.Send)
	conversations.GET("/:id/messages", h.List)
	conversations.POST("/:id/read", h.MarkRead)
}

// Send handles POST /conversations/:id/messages. A send over a channel with
// no live connection returns 409; the message is still recorded undelivered
// and appears in the response body.
func (h *MessageHandler) Send(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req SendMessageRequest
	if err := BindRequest(c, &req); err != nil {
		return err
	}

	message, err := h.dispatcher.Send(ctx, tenantID, id, req.Text)
	if err != nil {
		if errors.Is(err, dispatch.ErrChannelNotConnected) {
			if message != nil {
				return c.JSON(http.StatusConflict, message)
			}
			return Conflict("channel is not connected")
		}
		if errors.Is(err, dispatch.ErrEmptyMessage) {
			return BadRequest("text is required")
		}
		return err
	}

	return CreatedResponse(c, message)
}

// List handles GET /conversations/:id/messages
func (h *MessageHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	// Ownership check; GetByID is tenant scoped.
	if _, err := h.conversations.GetByID(ctx, id); err != nil {
		return err
	}

	limit := defaultMessageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return BadRequest("limit must be a positive integer")
		}
		limit = parsed
	}

	messages, err := h.messages.ListByConversation(ctx, id, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, messages)
}

// MarkRead handles POST /conversations/:id/read
func (h *MessageHandler) MarkRead(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.conversations.MarkRead(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}
