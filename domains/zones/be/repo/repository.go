package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// Repository exposes persistence operations required by the zones service.
type Repository interface {
	Create(ctx context.Context, params persistence.CreateZoneParams) (persistence.Zone, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.Zone, error)
	List(ctx context.Context, params persistence.ListZonesParams) ([]persistence.Zone, error)
	Update(ctx context.Context, id uuid.UUID, params persistence.UpdateZoneParams) (persistence.Zone, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	store *persistence.ZoneStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.ZoneStore) Repository {
	if store == nil {
		panic("zone store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreateZoneParams) (persistence.Zone, error) {
	return r.store.CreateZone(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Zone, error) {
	return r.store.GetZone(ctx, id)
}

func (r *postgresRepository) List(ctx context.Context, params persistence.ListZonesParams) ([]persistence.Zone, error) {
	return r.store.ListZones(ctx, params)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateZoneParams) (persistence.Zone, error) {
	return r.store.UpdateZone(ctx, id, params)
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.DeleteZone(ctx, id)
}
