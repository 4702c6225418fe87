package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

type postgresRepository struct {
	db        *persistence.CoreDB
	lots      *persistence.LotStore
	zones     *persistence.ZoneStore
	stays     *persistence.StayStore
	generator SnapshotGenerator
}

// NewPostgresRepository builds a Repository backed by the shared persistence
// layer. The generator is the traceability service; it is injected to keep
// snapshot assembly out of this package.
func NewPostgresRepository(
	db *persistence.CoreDB,
	lots *persistence.LotStore,
	zones *persistence.ZoneStore,
	stays *persistence.StayStore,
	generator SnapshotGenerator,
) Repository {
	if db == nil || lots == nil || zones == nil || stays == nil {
		panic("all stores are required")
	}
	if generator == nil {
		panic("snapshot generator is required")
	}
	return &postgresRepository{db: db, lots: lots, zones: zones, stays: stays, generator: generator}
}

func (r *postgresRepository) InMoveTx(ctx context.Context, fn func(ops MoveOps) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&txOps{repo: r, tx: tx})
	})
}

type txOps struct {
	repo *postgresRepository
	tx   pgx.Tx
}

func (o *txOps) Lot(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
	return o.repo.lots.GetLotTx(ctx, o.tx, id)
}

func (o *txOps) Zone(ctx context.Context, id uuid.UUID) (persistence.Zone, error) {
	return o.repo.zones.GetZoneTx(ctx, o.tx, id)
}

func (o *txOps) CurrentStay(ctx context.Context, lotID uuid.UUID) (*persistence.Stay, error) {
	return o.repo.stays.CurrentStayTx(ctx, o.tx, lotID)
}

func (o *txOps) CloseStay(ctx context.Context, lotID uuid.UUID, exitTime time.Time) (persistence.Stay, error) {
	return o.repo.stays.CloseStayTx(ctx, o.tx, lotID, exitTime)
}

func (o *txOps) OpenStay(ctx context.Context, lotID, zoneID uuid.UUID, entryTime time.Time) (persistence.Stay, error) {
	return o.repo.stays.OpenStayTx(ctx, o.tx, lotID, zoneID, entryTime)
}

func (o *txOps) CreateSubLot(ctx context.Context, params persistence.CreateLotParams) (persistence.Lot, error) {
	return o.repo.lots.CreateLotTx(ctx, o.tx, params)
}

func (o *txOps) FinishLot(ctx context.Context, lotID uuid.UUID) (persistence.Lot, error) {
	return o.repo.lots.FinishLotTx(ctx, o.tx, lotID)
}

func (o *txOps) GenerateSnapshot(ctx context.Context, lotID uuid.UUID) (persistence.SnapshotRecord, error) {
	return o.repo.generator.GenerateTx(ctx, o.tx, lotID)
}
