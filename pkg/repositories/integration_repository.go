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

const integrationsTable = "integrations"

var integrationStruct = database.NewStruct(new(models.Integration))

// IntegrationRepository handles database operations for channel integrations
type IntegrationRepository struct {
	*Repository
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(db database.DB, logger ectologger.Logger) *IntegrationRepository {
	return &IntegrationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new integration
func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	integration.TenantID = tenantID

	if integration.ID == uuid.Nil {
		integration.ID = uuid.New()
	}
	if integration.Status == "" {
		integration.Status = models.IntegrationDisconnected
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(integrationsTable).
		Cols("id", "tenant_id", "user_id", "channel", "status", "credential_ref", "external_address", "created_at", "updated_at").
		Values(integration.ID, integration.TenantID, integration.UserID, integration.Channel, integration.Status,
			integration.CredentialRef, integration.ExternalAddress,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return httperror.NewHTTPErrorf(http.StatusConflict, "an integration for this channel already exists")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integration.ID,
		}).Error("failed to create integration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create integration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"channel":        integration.Channel,
	}).Debugf("Created %s", integrationsTable)
	return nil
}

// GetByID retrieves an integration by ID (tenant-scoped)
func (r *IntegrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var integration models.Integration
	err = r.DB().GetContext(ctx, &integration, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "integration %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to get integration by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration by ID")
	}

	return &integration, nil
}

// FindReusable retrieves the existing integration for a (user, channel)
// pair, if any. Connect requests reuse a prior disconnected row rather than
// creating a second one: exactly one integration exists per
// (tenant, user, channel).
func (r *IntegrationRepository) FindReusable(ctx context.Context, userID *uuid.UUID, channel models.ChannelKind) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.FindReusable")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationStruct.SelectFrom(integrationsTable)
	conds := []string{sb.Equal("tenant_id", tenantID), sb.Equal("channel", channel)}
	if userID != nil {
		conds = append(conds, sb.Equal("user_id", *userID))
	} else {
		conds = append(conds, sb.IsNull("user_id"))
	}
	sb.Where(conds...)

	query, args := sb.Build()
	var integration models.Integration
	err = r.DB().GetContext(ctx, &integration, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to find reusable integration")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find integration")
	}

	return &integration, nil
}

// FindByExternalAddress resolves an integration by its channel-side address
// (e.g. a webhook page id). Cross-tenant: webhook deliveries carry no tenant
// of their own, the address is what routes them. Returns nil when no tenant
// has connected the address; deliveries for it are expected after a
// disconnect and are not errors.
func (r *IntegrationRepository) FindByExternalAddress(ctx context.Context, channel models.ChannelKind, address string) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.FindByExternalAddress")
	defer span.End()

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("channel", channel), sb.Equal("external_address", address))

	query, args := sb.Build()
	var integration models.Integration
	err := r.DB().GetContext(ctx, &integration, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_address": address,
		}).Error("failed to find integration by external address")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find integration")
	}

	return &integration, nil
}

// List retrieves all integrations for the current tenant
func (r *IntegrationRepository) List(ctx context.Context) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var integrations []models.Integration
	err = r.DB().SelectContext(ctx, &integrations, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list integrations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list integrations")
	}

	return integrations, nil
}

// SetStatus writes a session lifecycle transition through to the durable
// row. Takes the tenant id explicitly: the session manager runs outside any
// request context. When address is non-nil the external address is updated
// alongside the status; disconnects pass an empty address to clear it.
func (r *IntegrationRepository) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IntegrationStatus, address *string) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.SetStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("status", status),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if address != nil {
		if *address == "" {
			assignments = append(assignments, ub.Assign("external_address", nil))
		} else {
			assignments = append(assignments, ub.Assign("external_address", *address))
		}
	}
	ub.Update(integrationsTable).
		Set(assignments...).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
			"status":         status,
		}).Error("failed to update integration status")
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return NotFound("integration %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
		"status":         status,
	}).Debugf("Updated %s status", integrationsTable)
	return nil
}

// ClearCredentialRef wipes the stored credential reference. Used when the
// external transport reports a terminal revocation: stale credentials must
// not be reused.
func (r *IntegrationRepository) ClearCredentialRef(ctx context.Context, tenantID, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.ClearCredentialRef")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("credential_ref", nil),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to clear credential reference")
		return err
	}
	return nil
}

// ListConnectedPaired returns every paired-channel integration last observed
// as connected with an owning user present. Cross-tenant: the session
// manager restores every tenant's sessions on process start.
func (r *IntegrationRepository) ListConnectedPaired(ctx context.Context) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.ListConnectedPaired")
	defer span.End()

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(
		sb.Equal("channel", models.ChannelWhatsApp),
		sb.Equal("status", models.IntegrationConnected),
		sb.IsNotNull("user_id"),
	)

	query, args := sb.Build()
	var integrations []models.Integration
	if err := r.DB().SelectContext(ctx, &integrations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list connected paired integrations")
		return nil, err
	}

	return integrations, nil
}

// Delete deletes an integration by ID
func (r *IntegrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(integrationsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to delete integration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete integration")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete integration")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "integration %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
	}).Debugf("Deleted %s", integrationsTable)
	return nil
}
