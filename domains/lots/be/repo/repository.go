package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// Repository exposes persistence operations required by the lots service.
type Repository interface {
	Create(ctx context.Context, params persistence.CreateLotParams) (persistence.Lot, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.Lot, error)
	List(ctx context.Context, params persistence.ListLotsParams) (persistence.ListLotsResult, error)
	Update(ctx context.Context, id uuid.UUID, params persistence.UpdateLotParams) (persistence.Lot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ActiveTemplate(ctx context.Context) (persistence.TemplateRecord, error)
}

type postgresRepository struct {
	lots      *persistence.LotStore
	templates *persistence.TemplateStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(lots *persistence.LotStore, templates *persistence.TemplateStore) Repository {
	if lots == nil {
		panic("lot store is required")
	}
	if templates == nil {
		panic("template store is required")
	}
	return &postgresRepository{lots: lots, templates: templates}
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreateLotParams) (persistence.Lot, error) {
	return r.lots.CreateLot(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
	return r.lots.GetLot(ctx, id)
}

func (r *postgresRepository) List(ctx context.Context, params persistence.ListLotsParams) (persistence.ListLotsResult, error) {
	return r.lots.ListLots(ctx, params)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateLotParams) (persistence.Lot, error) {
	return r.lots.UpdateLot(ctx, id, params)
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.lots.DeleteLot(ctx, id)
}

func (r *postgresRepository) ActiveTemplate(ctx context.Context) (persistence.TemplateRecord, error) {
	return r.templates.GetActiveTemplate(ctx)
}
