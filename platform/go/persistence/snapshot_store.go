package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const QrSnapshotsTable = "qr_snapshots"

// SnapshotRecord represents a row in the qr_snapshots table. Data is the
// frozen certificate computed at generation time; it is never recalculated.
type SnapshotRecord struct {
	SnapshotID  uuid.UUID       `json:"snapshotId"`
	LotID       uuid.UUID       `json:"lotId"`
	PublicToken string          `json:"publicToken"`
	Data        json.RawMessage `json:"snapshotData"`
	IsActive    bool            `json:"isActive"`
	ScanCount   int64           `json:"scanCount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

var (
	// ErrSnapshotNotFound indicates a missing snapshot or unknown token.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotRevoked indicates the snapshot exists but is no longer
	// publicly resolvable.
	ErrSnapshotRevoked = errors.New("snapshot revoked")
)

// SnapshotStore exposes persistence helpers for the qr_snapshots table.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore returns a store bound to the shared pool.
func NewSnapshotStore(pool *pgxpool.Pool) (*SnapshotStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SnapshotStore{pool: pool}, nil
}

// CreateSnapshotParams captures the fields required to persist a snapshot.
type CreateSnapshotParams struct {
	SnapshotID  uuid.UUID
	LotID       uuid.UUID
	PublicToken string
	Data        json.RawMessage
}

const snapshotColumns = `snapshot_id, lot_id, public_token, snapshot_data, is_active, scan_count, created_at`

// CreateSnapshot persists a freshly generated certificate.
func (s *SnapshotStore) CreateSnapshot(ctx context.Context, params CreateSnapshotParams) (SnapshotRecord, error) {
	return s.createSnapshot(ctx, s.pool, params)
}

// CreateSnapshotTx persists a certificate inside the provided transaction.
func (s *SnapshotStore) CreateSnapshotTx(ctx context.Context, tx pgx.Tx, params CreateSnapshotParams) (SnapshotRecord, error) {
	return s.createSnapshot(ctx, tx, params)
}

func (s *SnapshotStore) createSnapshot(ctx context.Context, q querier, params CreateSnapshotParams) (SnapshotRecord, error) {
	if params.SnapshotID == uuid.Nil {
		return SnapshotRecord{}, errors.New("snapshot id is required")
	}
	if params.PublicToken == "" {
		return SnapshotRecord{}, errors.New("public token is required")
	}
	if len(params.Data) == 0 {
		return SnapshotRecord{}, errors.New("snapshot data is required")
	}

	row := q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (snapshot_id, lot_id, public_token, snapshot_data)
        VALUES ($1, $2, $3, $4)
        RETURNING %s
    `, QrSnapshotsTable, snapshotColumns),
		params.SnapshotID, params.LotID, params.PublicToken, []byte(params.Data))

	return scanSnapshot(row)
}

// GetSnapshot returns the snapshot with the given id.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, id uuid.UUID) (SnapshotRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE snapshot_id = $1`, snapshotColumns, QrSnapshotsTable), id)
	rec, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SnapshotRecord{}, ErrSnapshotNotFound
		}
		return SnapshotRecord{}, err
	}
	return rec, nil
}

// ListByLot returns every snapshot of a lot, newest first.
func (s *SnapshotStore) ListByLot(ctx context.Context, lotID uuid.UUID) ([]SnapshotRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE lot_id = $1 ORDER BY created_at DESC
    `, snapshotColumns, QrSnapshotsTable), lotID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan snapshot: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return records, nil
}

// ResolveByToken returns the frozen certificate behind a public token and
// increments its scan counter as a side effect. ErrSnapshotRevoked is
// returned when the record exists but was revoked.
func (s *SnapshotStore) ResolveByToken(ctx context.Context, token string) (SnapshotRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s SET scan_count = scan_count + 1
        WHERE public_token = $1 AND is_active = TRUE
        RETURNING %s
    `, QrSnapshotsTable, snapshotColumns), token)

	rec, err := scanSnapshot(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return SnapshotRecord{}, err
	}

	// Distinguish a revoked record from an unknown (or rotated-out) token.
	var exists bool
	checkErr := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT EXISTS (SELECT 1 FROM %s WHERE public_token = $1)
    `, QrSnapshotsTable), token).Scan(&exists)
	if checkErr != nil {
		return SnapshotRecord{}, checkErr
	}
	if exists {
		return SnapshotRecord{}, ErrSnapshotRevoked
	}
	return SnapshotRecord{}, ErrSnapshotNotFound
}

// RotateToken replaces the public token without touching the frozen data.
// Rotation of a revoked snapshot fails with ErrSnapshotRevoked.
func (s *SnapshotStore) RotateToken(ctx context.Context, id uuid.UUID, newToken string) (SnapshotRecord, error) {
	if newToken == "" {
		return SnapshotRecord{}, errors.New("new token is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s SET public_token = $2
        WHERE snapshot_id = $1 AND is_active = TRUE
        RETURNING %s
    `, QrSnapshotsTable, snapshotColumns), id, newToken)

	rec, err := scanSnapshot(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return SnapshotRecord{}, err
	}

	if _, getErr := s.GetSnapshot(ctx, id); getErr != nil {
		return SnapshotRecord{}, getErr
	}
	return SnapshotRecord{}, ErrSnapshotRevoked
}

// Revoke permanently disables public resolution. Idempotent.
func (s *SnapshotStore) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET is_active = FALSE WHERE snapshot_id = $1
    `, QrSnapshotsTable), id)
	if err != nil {
		return fmt.Errorf("revoke snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

func scanSnapshot(row pgx.Row) (SnapshotRecord, error) {
	var (
		rec  SnapshotRecord
		data []byte
	)
	err := row.Scan(
		&rec.SnapshotID,
		&rec.LotID,
		&rec.PublicToken,
		&data,
		&rec.IsActive,
		&rec.ScanCount,
		&rec.CreatedAt,
	)
	if err != nil {
		return SnapshotRecord{}, err
	}
	rec.Data = json.RawMessage(data)
	return rec, nil
}
