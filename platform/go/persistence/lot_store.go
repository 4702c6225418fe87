package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const LotsTable = "lots"

// LotStatus is the lifecycle state of a lot.
type LotStatus string

const (
	LotStatusActive   LotStatus = "active"
	LotStatusFinished LotStatus = "finished"
)

// Lot represents a row in the lots table. A lot with ParentLotID set is a
// sublot carved out of its parent during a stage transition and always
// carries a PieceType.
type Lot struct {
	LotID          uuid.UUID      `json:"lotId"`
	Identification string         `json:"identification"`
	InitialCount   int            `json:"initialCount"`
	FinalCount     *int           `json:"finalCount,omitempty"`
	Regime         *string        `json:"regime,omitempty"`
	IberianPct     *float64       `json:"iberianPct,omitempty"`
	Status         LotStatus      `json:"status"`
	ParentLotID    *uuid.UUID     `json:"parentLotId,omitempty"`
	PieceType      *string        `json:"pieceType,omitempty"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

var (
	// ErrLotNotFound indicates a missing lot record.
	ErrLotNotFound = errors.New("lot not found")
	// ErrLotConflict indicates a uniqueness violation on identification.
	ErrLotConflict = errors.New("lot identification already exists")
	// ErrLotHasStays rejects deletion of a lot with ledger history.
	ErrLotHasStays = errors.New("lot has stay history")
	// ErrLotHasSublots rejects deletion of a lot that was split.
	ErrLotHasSublots = errors.New("lot has sublots")
)

// LotStore exposes persistence helpers for the lots table.
type LotStore struct {
	pool *pgxpool.Pool
}

// NewLotStore returns a store bound to the shared pool.
func NewLotStore(pool *pgxpool.Pool) (*LotStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &LotStore{pool: pool}, nil
}

// CreateLotParams captures the fields required to insert a lot record.
type CreateLotParams struct {
	LotID          uuid.UUID
	Identification string
	InitialCount   int
	Regime         *string
	IberianPct     *float64
	ParentLotID    *uuid.UUID
	PieceType      *string
	CustomFields   map[string]any
}

const lotColumns = `lot_id, identification, initial_count, final_count, regime, iberian_pct, status, parent_lot_id, piece_type, custom_fields, created_at, updated_at`

// CreateLot inserts a new lot and returns the persisted record.
func (s *LotStore) CreateLot(ctx context.Context, params CreateLotParams) (Lot, error) {
	return s.createLot(ctx, s.pool, params)
}

// CreateLotTx inserts a new lot inside the provided transaction.
func (s *LotStore) CreateLotTx(ctx context.Context, tx pgx.Tx, params CreateLotParams) (Lot, error) {
	return s.createLot(ctx, tx, params)
}

func (s *LotStore) createLot(ctx context.Context, q querier, params CreateLotParams) (Lot, error) {
	if params.LotID == uuid.Nil {
		return Lot{}, errors.New("lot id is required")
	}
	if params.ParentLotID != nil && (params.PieceType == nil || strings.TrimSpace(*params.PieceType) == "") {
		return Lot{}, errors.New("sublot requires a piece type")
	}

	fields, err := encodeCustomFields(params.CustomFields)
	if err != nil {
		return Lot{}, err
	}

	row := q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (lot_id, identification, initial_count, regime, iberian_pct, parent_lot_id, piece_type, custom_fields)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING %s
    `, LotsTable, lotColumns),
		params.LotID,
		strings.TrimSpace(params.Identification),
		params.InitialCount,
		params.Regime,
		params.IberianPct,
		params.ParentLotID,
		params.PieceType,
		fields,
	)

	lot, err := scanLot(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Lot{}, ErrLotConflict
		}
		return Lot{}, err
	}
	return lot, nil
}

// GetLot returns the lot with the given id.
func (s *LotStore) GetLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	return s.getLot(ctx, s.pool, id)
}

// GetLotTx returns the lot with the given id inside the provided transaction.
func (s *LotStore) GetLotTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Lot, error) {
	return s.getLot(ctx, tx, id)
}

func (s *LotStore) getLot(ctx context.Context, q querier, id uuid.UUID) (Lot, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE lot_id = $1`, lotColumns, LotsTable), id)
	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return lot, nil
}

// ListLotsParams captures filters and pagination for ListLots.
type ListLotsParams struct {
	Status      *LotStatus
	ParentLotID *uuid.UUID
	Page        int
	PageSize    int
}

// ListLotsResult includes the rows and the total count for pagination metadata.
type ListLotsResult struct {
	Lots       []Lot
	TotalItems int
}

// ListLots returns lots matching the filters, newest first.
func (s *LotStore) ListLots(ctx context.Context, params ListLotsParams) (ListLotsResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	whereParts := []string{"1=1"}
	var args []any

	if params.Status != nil {
		args = append(args, string(*params.Status))
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.ParentLotID != nil {
		args = append(args, *params.ParentLotID)
		whereParts = append(whereParts, fmt.Sprintf("parent_lot_id = $%d", len(args)))
	}

	whereSQL := strings.Join(whereParts, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", LotsTable, whereSQL)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListLotsResult{}, fmt.Errorf("count lots: %w", err)
	}

	result := ListLotsResult{Lots: []Lot{}, TotalItems: total}
	if total == 0 {
		return result, nil
	}

	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d
    `, lotColumns, LotsTable, whereSQL, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ListLotsResult{}, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		lot, scanErr := scanLot(rows)
		if scanErr != nil {
			return ListLotsResult{}, fmt.Errorf("scan lot: %w", scanErr)
		}
		result.Lots = append(result.Lots, lot)
	}
	if err = rows.Err(); err != nil {
		return ListLotsResult{}, fmt.Errorf("iterate lots: %w", err)
	}

	return result, nil
}

// UpdateLotParams captures the optional fields a lot update may change.
// Nil pointers leave the stored value untouched; CustomFields replaces the
// whole bag when non-nil.
type UpdateLotParams struct {
	Identification *string
	FinalCount     *int
	Regime         *string
	IberianPct     *float64
	CustomFields   map[string]any
}

// UpdateLot applies the provided changes and returns the updated record.
func (s *LotStore) UpdateLot(ctx context.Context, id uuid.UUID, params UpdateLotParams) (Lot, error) {
	setParts := []string{"updated_at = NOW()"}
	var args []any

	if params.Identification != nil {
		args = append(args, strings.TrimSpace(*params.Identification))
		setParts = append(setParts, fmt.Sprintf("identification = $%d", len(args)))
	}
	if params.FinalCount != nil {
		args = append(args, *params.FinalCount)
		setParts = append(setParts, fmt.Sprintf("final_count = $%d", len(args)))
	}
	if params.Regime != nil {
		args = append(args, *params.Regime)
		setParts = append(setParts, fmt.Sprintf("regime = $%d", len(args)))
	}
	if params.IberianPct != nil {
		args = append(args, *params.IberianPct)
		setParts = append(setParts, fmt.Sprintf("iberian_pct = $%d", len(args)))
	}
	if params.CustomFields != nil {
		fields, err := encodeCustomFields(params.CustomFields)
		if err != nil {
			return Lot{}, err
		}
		args = append(args, fields)
		setParts = append(setParts, fmt.Sprintf("custom_fields = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(`
        UPDATE %s SET %s
        WHERE lot_id = $%d
        RETURNING %s
    `, LotsTable, strings.Join(setParts, ", "), len(args), lotColumns)

	lot, err := scanLot(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		if isUniqueViolation(err) {
			return Lot{}, ErrLotConflict
		}
		return Lot{}, err
	}
	return lot, nil
}

// FinishLotTx flips a lot to finished inside the provided transaction.
func (s *LotStore) FinishLotTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Lot, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $2, updated_at = NOW()
        WHERE lot_id = $1
        RETURNING %s
    `, LotsTable, lotColumns), id, string(LotStatusFinished))

	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return lot, nil
}

// DeleteLot removes a lot. Deletion is rejected while any stay or sublot
// references it, preserving ledger integrity.
func (s *LotStore) DeleteLot(ctx context.Context, id uuid.UUID) error {
	var stays, sublots int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT
            (SELECT COUNT(*) FROM %s WHERE lot_id = $1),
            (SELECT COUNT(*) FROM %s WHERE parent_lot_id = $1)
    `, StaysTable, LotsTable), id).Scan(&stays, &sublots)
	if err != nil {
		return fmt.Errorf("check lot references: %w", err)
	}
	if stays > 0 {
		return ErrLotHasStays
	}
	if sublots > 0 {
		return ErrLotHasSublots
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE lot_id = $1`, LotsTable), id)
	if err != nil {
		if foreignKeyViolation(err) {
			return ErrLotHasStays
		}
		return fmt.Errorf("delete lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

// ListUnplacedActive returns active lots with no open stay, i.e. the
// sinUbicacion bucket of the tracking board.
func (s *LotStore) ListUnplacedActive(ctx context.Context) ([]Lot, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s l
        WHERE l.status = 'active'
          AND NOT EXISTS (SELECT 1 FROM %s st WHERE st.lot_id = l.lot_id AND st.exit_time IS NULL)
        ORDER BY l.created_at ASC
    `, lotColumns, LotsTable, StaysTable)

	return s.queryLots(ctx, query)
}

// ListFinished returns finished lots, i.e. the finalizado bucket.
func (s *LotStore) ListFinished(ctx context.Context) ([]Lot, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM %s WHERE status = 'finished' ORDER BY updated_at DESC
    `, lotColumns, LotsTable)

	return s.queryLots(ctx, query)
}

func (s *LotStore) queryLots(ctx context.Context, query string, args ...any) ([]Lot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	lots := make([]Lot, 0)
	for rows.Next() {
		lot, scanErr := scanLot(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan lot: %w", scanErr)
		}
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lots: %w", err)
	}
	return lots, nil
}

func scanLot(row pgx.Row) (Lot, error) {
	var (
		lot    Lot
		status string
		fields []byte
	)
	err := row.Scan(
		&lot.LotID,
		&lot.Identification,
		&lot.InitialCount,
		&lot.FinalCount,
		&lot.Regime,
		&lot.IberianPct,
		&status,
		&lot.ParentLotID,
		&lot.PieceType,
		&fields,
		&lot.CreatedAt,
		&lot.UpdatedAt,
	)
	if err != nil {
		return Lot{}, err
	}
	lot.Status = LotStatus(status)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &lot.CustomFields); err != nil {
			return Lot{}, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return lot, nil
}

func decodeJSONMap(raw []byte, dst *map[string]any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode json map: %w", err)
	}
	return nil
}

func encodeCustomFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode custom fields: %w", err)
	}
	return encoded, nil
}
