package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// Repository exposes persistence operations required by the traceability
// service. The Tx variants serve snapshot generation running inside a move
// transaction, so the certificate sees the stays the move just wrote.
type Repository interface {
	Lot(ctx context.Context, id uuid.UUID) (persistence.Lot, error)
	LotTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (persistence.Lot, error)
	Timeline(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error)
	TimelineTx(ctx context.Context, tx pgx.Tx, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error)
	AggregateWindow(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error)
	AggregateWindowTx(ctx context.Context, tx pgx.Tx, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error)
	CreateSnapshot(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error)
	CreateSnapshotTx(ctx context.Context, tx pgx.Tx, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (persistence.SnapshotRecord, error)
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]persistence.SnapshotRecord, error)
	ResolveByToken(ctx context.Context, token string) (persistence.SnapshotRecord, error)
	RotateToken(ctx context.Context, id uuid.UUID, newToken string) (persistence.SnapshotRecord, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	lots      *persistence.LotStore
	stays     *persistence.StayStore
	readings  *persistence.ReadingStore
	snapshots *persistence.SnapshotStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(
	lots *persistence.LotStore,
	stays *persistence.StayStore,
	readings *persistence.ReadingStore,
	snapshots *persistence.SnapshotStore,
) Repository {
	if lots == nil || stays == nil || readings == nil || snapshots == nil {
		panic("all stores are required")
	}
	return &postgresRepository{lots: lots, stays: stays, readings: readings, snapshots: snapshots}
}

func (r *postgresRepository) Lot(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
	return r.lots.GetLot(ctx, id)
}

func (r *postgresRepository) LotTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (persistence.Lot, error) {
	return r.lots.GetLotTx(ctx, tx, id)
}

func (r *postgresRepository) Timeline(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
	return r.stays.Timeline(ctx, lotIDs)
}

func (r *postgresRepository) TimelineTx(ctx context.Context, tx pgx.Tx, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
	return r.stays.TimelineTx(ctx, tx, lotIDs)
}

func (r *postgresRepository) AggregateWindow(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
	return r.readings.AggregateWindow(ctx, zoneID, from, to)
}

func (r *postgresRepository) AggregateWindowTx(ctx context.Context, tx pgx.Tx, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
	return r.readings.AggregateWindowTx(ctx, tx, zoneID, from, to)
}

func (r *postgresRepository) CreateSnapshot(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
	return r.snapshots.CreateSnapshot(ctx, params)
}

func (r *postgresRepository) CreateSnapshotTx(ctx context.Context, tx pgx.Tx, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
	return r.snapshots.CreateSnapshotTx(ctx, tx, params)
}

func (r *postgresRepository) GetSnapshot(ctx context.Context, id uuid.UUID) (persistence.SnapshotRecord, error) {
	return r.snapshots.GetSnapshot(ctx, id)
}

func (r *postgresRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]persistence.SnapshotRecord, error) {
	return r.snapshots.ListByLot(ctx, lotID)
}

func (r *postgresRepository) ResolveByToken(ctx context.Context, token string) (persistence.SnapshotRecord, error) {
	return r.snapshots.ResolveByToken(ctx, token)
}

func (r *postgresRepository) RotateToken(ctx context.Context, id uuid.UUID, newToken string) (persistence.SnapshotRecord, error) {
	return r.snapshots.RotateToken(ctx, id, newToken)
}

func (r *postgresRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	return r.snapshots.Revoke(ctx, id)
}
