package repo

import (
	"context"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// Repository exposes the read-side queries the board projection needs.
type Repository interface {
	Occupancies(ctx context.Context) ([]persistence.Occupancy, error)
	Zones(ctx context.Context) ([]persistence.Zone, error)
	UnplacedActiveLots(ctx context.Context) ([]persistence.Lot, error)
	FinishedLots(ctx context.Context) ([]persistence.Lot, error)
}

type postgresRepository struct {
	lots  *persistence.LotStore
	zones *persistence.ZoneStore
	stays *persistence.StayStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(lots *persistence.LotStore, zones *persistence.ZoneStore, stays *persistence.StayStore) Repository {
	if lots == nil || zones == nil || stays == nil {
		panic("all stores are required")
	}
	return &postgresRepository{lots: lots, zones: zones, stays: stays}
}

func (r *postgresRepository) Occupancies(ctx context.Context) ([]persistence.Occupancy, error) {
	return r.stays.ListOccupancies(ctx)
}

func (r *postgresRepository) Zones(ctx context.Context) ([]persistence.Zone, error) {
	return r.zones.ListZones(ctx, persistence.ListZonesParams{})
}

func (r *postgresRepository) UnplacedActiveLots(ctx context.Context) ([]persistence.Lot, error) {
	return r.lots.ListUnplacedActive(ctx)
}

func (r *postgresRepository) FinishedLots(ctx context.Context) ([]persistence.Lot, error) {
	return r.lots.ListFinished(ctx)
}
