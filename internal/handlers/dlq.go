package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/stem/pkg/context"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

// DeadLetterStore is the slice of the redis dead letter queue the handler
// uses.
type DeadLetterStore interface {
	List(ctx context.Context, count int64) ([]redis.DLQEntry, error)
	ListByTenant(ctx context.Context, tenantID string, count int64) ([]redis.DLQEntry, error)
	Get(ctx context.Context, messageID string) (*redis.DLQEntry, error)
	Delete(ctx context.Context, messageID string) error
	Count(ctx context.Context) (int64, error)
}

// DLQHandler exposes the ingest dead letter queue for inspection and replay.
type DLQHandler struct {
	dlq      DeadLetterStore
	pipeline Ingestor
	logger   ectologger.Logger
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(dlq DeadLetterStore, pipeline Ingestor, logger ectologger.Logger) *DLQHandler {
	return &DLQHandler{
		dlq:      dlq,
		pipeline: pipeline,
		logger:   logger,
	}
}

// DLQListResponse represents the response for listing DLQ entries
type DLQListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

// List returns dead letter queue entries
// GET /api/v1/dlq
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	countStr := c.QueryParam("count")
	count := int64(100)
	if countStr != "" {
		if parsed, err := strconv.ParseInt(countStr, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	tenantID := appctx.GetTenantID(ctx)
	var entries []redis.DLQEntry
	var err error

	if tenantID != "" {
		entries, err = h.dlq.ListByTenant(ctx, tenantID, count)
	} else {
		entries, err = h.dlq.List(ctx, count)
	}

	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}

	total, _ := h.dlq.Count(ctx)

	return c.JSON(http.StatusOK, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// Get returns a specific DLQ entry
// GET /api/v1/dlq/:id
func (h *DLQHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	entry, err := h.dlq.Get(ctx, messageID)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get DLQ entry")
		return err
	}

	if entry == nil {
		return repositories.NotFound("DLQ entry %s not found", messageID)
	}

	return c.JSON(http.StatusOK, entry)
}

// Retry replays a DLQ entry through the ingestion pipeline. A successful
// replay removes the entry; dedup makes replaying an already-recovered
// message harmless.
// POST /api/v1/dlq/:id/retry
func (h *DLQHandler) Retry(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	entry, err := h.dlq.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if entry == nil {
		return repositories.NotFound("DLQ entry %s not found", messageID)
	}

	tenantID, err := uuid.Parse(entry.TenantID)
	if err != nil {
		return BadRequest("DLQ entry has an invalid tenant id")
	}

	// Restore the integration scope; conversations are scoped by it, so a
	// replay without it would land in a different conversation.
	var integrationID *uuid.UUID
	if entry.IntegrationID != "" {
		parsed, err := uuid.Parse(entry.IntegrationID)
		if err != nil {
			return BadRequest("DLQ entry has an invalid integration id")
		}
		integrationID = &parsed
	}

	if _, err := h.pipeline.Ingest(ctx, ingest.InboundEvent{
		TenantID:          tenantID,
		IntegrationID:     integrationID,
		Channel:           models.ChannelKind(entry.Channel),
		ExternalContactID: entry.ExternalContactID,
		ExternalMessageID: entry.ExternalMessageID,
		Text:              entry.Text,
		DisplayName:       entry.DisplayName,
		AvatarURL:         entry.AvatarURL,
	}); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to retry DLQ entry")
		return err
	}

	if err := h.dlq.Delete(ctx, messageID); err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Failed to delete DLQ entry after retry")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "retried",
		"message": "Event re-ingested successfully",
	})
}

// Delete removes a DLQ entry
// DELETE /api/v1/dlq/:id
func (h *DLQHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	if err := h.dlq.Delete(ctx, messageID); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to delete DLQ entry")
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Stats returns DLQ statistics
// GET /api/v1/dlq/stats
func (h *DLQHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.dlq.Count(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get DLQ stats")
		return err
	}

	return c.JSON(http.StatusOK, map[string]int64{
		"total_entries": count,
	})
}

// RegisterRoutes registers the DLQ routes
func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.GET("/stats", h.Stats)
	dlq.GET("/:id", h.Get)
	dlq.POST("/:id/retry", h.Retry)
	dlq.DELETE("/:id", h.Delete)
}
