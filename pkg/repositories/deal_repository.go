package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

const dealsTable = "deals"

var dealStruct = database.NewStruct(new(models.Deal))

// DealRepository handles database operations for deals
type DealRepository struct {
	*Repository
}

// NewDealRepository creates a new deal repository
func NewDealRepository(db database.DB, logger ectologger.Logger) *DealRepository {
	return &DealRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateForContact seeds the pipeline for a newly ingested contact: zero
// amount, in progress. Ingestion calls this exactly once per created
// contact; a unique index on contact_id backs that up if a retry slips
// through, and the conflict is treated as already-seeded.
func (r *DealRepository) CreateForContact(ctx context.Context, tenantID, contactID uuid.UUID, title string) (*models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "DealRepository.CreateForContact")
	defer span.End()

	deal := &models.Deal{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ContactID:   contactID,
		Title:       title,
		AmountCents: 0,
		Status:      models.DealStatusInProgress,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(dealsTable).
		Cols("id", "tenant_id", "contact_id", "title", "amount_cents", "status", "created_at", "updated_at").
		Values(deal.ID, deal.TenantID, deal.ContactID, deal.Title, deal.AmountCents, deal.Status,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&deal.CreatedAt, &deal.UpdatedAt)
	if IsUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
		}).Error("failed to create deal for contact")
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"deal_id":    deal.ID,
		"contact_id": contactID,
	}).Debugf("Created %s", dealsTable)
	return deal, nil
}

// ListByContact returns the deals attached to a contact (tenant-scoped).
func (r *DealRepository) ListByContact(ctx context.Context, contactID uuid.UUID) ([]models.Deal, error) {
	ctx, span := tracing.StartSpan(ctx, "DealRepository.ListByContact")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := dealStruct.SelectFrom(dealsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("contact_id", contactID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var deals []models.Deal
	if err := r.DB().SelectContext(ctx, &deals, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"contact_id": contactID,
		}).Error("failed to list deals")
		return nil, err
	}

	return deals, nil
}
