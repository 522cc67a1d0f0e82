package handlers

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/session"
)

// SessionManager is the slice of the session manager the handler uses.
type SessionManager interface {
	StartSession(ctx context.Context, integrationID, tenantID, userID uuid.UUID) error
	GetSession(integrationID uuid.UUID) (session.Snapshot, bool)
	PairingArtifact(integrationID uuid.UUID) ([]byte, session.Status)
	DisconnectSession(ctx context.Context, tenantID, integrationID uuid.UUID) error
}

// ChannelHandler manages channel integrations and their sessions.
type ChannelHandler struct {
	integrations repositories.IntegrationRepo
	sessions     SessionManager
}

// NewChannelHandler creates a new channel handler
func NewChannelHandler(integrations repositories.IntegrationRepo, sessions SessionManager) *ChannelHandler {
	return &ChannelHandler{
		integrations: integrations,
		sessions:     sessions,
	}
}

// ConnectRequest is the request body for connecting a channel
type ConnectRequest struct {
	Channel models.ChannelKind `json:"channel" validate:"required"`
	// UserID scopes a paired channel to the platform user who will scan
	// the pairing code. Omitted for tenant-wide webhook channels.
	UserID *uuid.UUID `json:"user_id,omitempty"`
	// ExternalAddress is the page address for webhook channels.
	ExternalAddress *string `json:"external_address,omitempty"`
	// CredentialRef is the page access token for webhook channels.
	CredentialRef *string `json:"credential_ref,omitempty"`
}

// StatusResponse reports an integration plus its live session, if any.
type StatusResponse struct {
	Integration *models.Integration `json:"integration"`
	Session     *session.Snapshot   `json:"session,omitempty"`
}

// PairingResponse carries the pairing payload for rendering as a QR code.
type PairingResponse struct {
	Status  session.Status `json:"status"`
	Payload string         `json:"payload,omitempty"`
}

// RegisterRoutes registers the channel routes
func (h *ChannelHandler) RegisterRoutes(g *echo.Group) {
	channels := g.Group("/channels")
	channels.POST("/connect", h.Connect)
	channels.GET("", h.List)
	channels.GET("/:id/status", h.Status)
	channels.GET("/:id/pairing", h.Pairing)
	channels.DELETE("/:id", h.Disconnect)
}

// Connect handles POST /channels/connect. An existing integration for the
// same (user, channel) scope is reused instead of duplicated; reconnecting
// a paired channel restarts its session.
func (h *ChannelHandler) Connect(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	var req ConnectRequest
	if err := BindRequest(c, &req); err != nil {
		return err
	}
	if !req.Channel.IsValid() {
		return BadRequest("unknown channel")
	}
	if req.Channel.IsPaired() && req.UserID == nil {
		return BadRequest("user_id is required for paired channels")
	}

	integration, err := h.integrations.FindReusable(ctx, req.UserID, req.Channel)
	if err != nil {
		return err
	}

	created := false
	if integration == nil {
		integration = &models.Integration{
			ID:              uuid.New(),
			TenantID:        tenantID,
			UserID:          req.UserID,
			Channel:         req.Channel,
			Status:          models.IntegrationDisconnected,
			ExternalAddress: req.ExternalAddress,
			CredentialRef:   req.CredentialRef,
		}
		if err := h.integrations.Create(ctx, integration); err != nil {
			return err
		}
		created = true
	}

	if req.Channel.IsPaired() {
		if err := h.sessions.StartSession(ctx, integration.ID, tenantID, *req.UserID); err != nil {
			return err
		}
	} else {
		// Webhook channels have no socket to open; the integration is
		// usable as soon as it exists.
		if err := h.integrations.SetStatus(ctx, tenantID, integration.ID, models.IntegrationConnected, req.ExternalAddress); err != nil {
			return err
		}
		integration.Status = models.IntegrationConnected
	}

	if created {
		return CreatedResponse(c, integration)
	}
	return SuccessResponse(c, integration)
}

// List handles GET /channels
func (h *ChannelHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	integrations, err := h.integrations.List(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, integrations)
}

// Status handles GET /channels/:id/status
func (h *ChannelHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	integration, err := h.integrations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	resp := StatusResponse{Integration: integration}
	if snap, ok := h.sessions.GetSession(id); ok {
		resp.Session = &snap
	}
	return SuccessResponse(c, resp)
}

// Pairing handles GET /channels/:id/pairing. Clients poll this while the
// session waits for the QR scan; the payload rotates as the transport
// refreshes it.
func (h *ChannelHandler) Pairing(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	// Ownership check before exposing session state.
	if _, err := h.integrations.GetByID(ctx, id); err != nil {
		return err
	}

	artifact, status := h.sessions.PairingArtifact(id)
	if status != session.StatusAwaitingPairing {
		return c.JSON(http.StatusOK, PairingResponse{Status: status})
	}
	if len(artifact) == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "pairing payload not available yet")
	}

	return c.JSON(http.StatusOK, PairingResponse{
		Status:  status,
		Payload: base64.StdEncoding.EncodeToString(artifact),
	})
}

// Disconnect handles DELETE /channels/:id. Idempotent; disconnecting an
// already-disconnected channel succeeds.
func (h *ChannelHandler) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	integration, err := h.integrations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if integration.Channel.IsPaired() {
		if err := h.sessions.DisconnectSession(ctx, tenantID, id); err != nil {
			return err
		}
	} else {
		cleared := ""
		if err := h.integrations.SetStatus(ctx, tenantID, id, models.IntegrationDisconnected, &cleared); err != nil {
			return err
		}
		if err := h.integrations.ClearCredentialRef(ctx, tenantID, id); err != nil {
			return err
		}
	}

	return NoContentResponse(c)
}
