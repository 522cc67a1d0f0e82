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

const contactsTable = "contacts"

var contactStruct = database.NewStruct(new(models.Contact))

// ContactRepository handles database operations for contacts
type ContactRepository struct {
	*Repository
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db database.DB, logger ectologger.Logger) *ContactRepository {
	return &ContactRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByExternalID retrieves a contact by its channel identity. The lookup is
// scoped to (tenant, channel): the same external id may exist under other
// tenants.
func (r *ContactRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, channel models.ChannelKind, externalID string) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.GetByExternalID")
	defer span.End()

	sb := contactStruct.SelectFrom(contactsTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("channel", channel),
		sb.Equal("external_id", externalID),
	)

	query, args := sb.Build()
	var contact models.Contact
	err := r.DB().GetContext(ctx, &contact, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": externalID,
		}).Error("failed to get contact by external id")
		return nil, err
	}

	return &contact, nil
}

// GetOrCreate resolves a contact by (tenant, channel, external id), creating
// it when absent. Returns created=true only on the insert path. A unique
// violation from a concurrent insert is conflict-as-success: the row is
// re-resolved once and returned with created=false.
func (r *ContactRepository) GetOrCreate(ctx context.Context, contact *models.Contact) (*models.Contact, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.GetOrCreate")
	defer span.End()

	existing, err := r.GetByExternalID(ctx, contact.TenantID, contact.Channel, contact.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	if contact.Status == "" {
		contact.Status = models.ContactStatusNew
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(contactsTable).
		Cols("id", "tenant_id", "channel", "external_id", "name", "email", "avatar_url", "status", "created_at", "updated_at").
		Values(contact.ID, contact.TenantID, contact.Channel, contact.ExternalID, contact.Name, contact.Email,
			contact.AvatarURL, contact.Status, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&contact.CreatedAt, &contact.UpdatedAt)
	if IsUniqueViolation(err) {
		// Lost the race; the winner's row is the one we wanted.
		existing, err = r.GetByExternalID(ctx, contact.TenantID, contact.Channel, contact.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errors.New("contact vanished after unique conflict")
		}
		return existing, false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": contact.ExternalID,
		}).Error("failed to create contact")
		return nil, false, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"contact_id":  contact.ID,
		"external_id": contact.ExternalID,
	}).Debugf("Created %s", contactsTable)
	return contact, true, nil
}

// GetByID retrieves a contact by ID (tenant-scoped)
func (r *ContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := contactStruct.SelectFrom(contactsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var contact models.Contact
	err = r.DB().GetContext(ctx, &contact, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "contact %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": id,
		}).Error("failed to get contact by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact by ID")
	}

	return &contact, nil
}

// UpdateProfile refreshes the display name and avatar from a newer inbound
// event.
func (r *ContactRepository) UpdateProfile(ctx context.Context, tenantID, id uuid.UUID, name string, avatarURL *string) error {
	ctx, span := tracing.StartSpan(ctx, "ContactRepository.UpdateProfile")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(contactsTable).
		Set(
			ub.Assign("name", name),
			ub.Assign("avatar_url", avatarURL),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": id,
		}).Error("failed to update contact profile")
		return err
	}
	return nil
}
