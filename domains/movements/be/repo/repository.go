package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// SnapshotGenerator materializes a traceability certificate inside the move
// transaction, so the frozen data includes the stays the move just wrote.
type SnapshotGenerator interface {
	GenerateTx(ctx context.Context, tx pgx.Tx, lotID uuid.UUID) (persistence.SnapshotRecord, error)
}

// MoveOps is the transactional surface the stage-transition engine drives.
// Every call runs inside the same transaction; returning an error from the
// InMoveTx closure rolls all of it back.
type MoveOps interface {
	Lot(ctx context.Context, id uuid.UUID) (persistence.Lot, error)
	Zone(ctx context.Context, id uuid.UUID) (persistence.Zone, error)
	CurrentStay(ctx context.Context, lotID uuid.UUID) (*persistence.Stay, error)
	CloseStay(ctx context.Context, lotID uuid.UUID, exitTime time.Time) (persistence.Stay, error)
	OpenStay(ctx context.Context, lotID, zoneID uuid.UUID, entryTime time.Time) (persistence.Stay, error)
	CreateSubLot(ctx context.Context, params persistence.CreateLotParams) (persistence.Lot, error)
	FinishLot(ctx context.Context, lotID uuid.UUID) (persistence.Lot, error)
	GenerateSnapshot(ctx context.Context, lotID uuid.UUID) (persistence.SnapshotRecord, error)
}

// Repository runs a move as one atomic unit.
type Repository interface {
	InMoveTx(ctx context.Context, fn func(ops MoveOps) error) error
}
