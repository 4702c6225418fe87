package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dehesalabs/trazar/platform/go/stage"
)

const StaysTable = "stays"

// Stay represents one occupancy interval of a lot in a zone. ExitTime is nil
// while the stay is open; a lot has at most one open stay at any instant,
// enforced by a partial unique index on (lot_id) WHERE exit_time IS NULL.
type Stay struct {
	StayID    uuid.UUID  `json:"stayId"`
	LotID     uuid.UUID  `json:"lotId"`
	ZoneID    uuid.UUID  `json:"zoneId"`
	EntryTime time.Time  `json:"entryTime"`
	ExitTime  *time.Time `json:"exitTime,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

var (
	// ErrStayConflict indicates an open stay already exists for the lot.
	ErrStayConflict = errors.New("lot already has an open stay")
	// ErrNoOpenStay indicates there is no open stay to close.
	ErrNoOpenStay = errors.New("lot has no open stay")
)

// StayStore is the append-only ledger of lot-zone occupancy intervals.
type StayStore struct {
	pool *pgxpool.Pool
}

// NewStayStore returns a store bound to the shared pool.
func NewStayStore(pool *pgxpool.Pool) (*StayStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &StayStore{pool: pool}, nil
}

const stayColumns = `stay_id, lot_id, zone_id, entry_time, exit_time, created_at`

// OpenStay records a lot entering a zone. Fails with ErrStayConflict when an
// open stay already exists for the lot; sequencing close-before-open is the
// engine's responsibility, not the ledger's.
func (s *StayStore) OpenStay(ctx context.Context, lotID, zoneID uuid.UUID, entryTime time.Time) (Stay, error) {
	return s.openStay(ctx, s.pool, lotID, zoneID, entryTime)
}

// OpenStayTx records a lot entering a zone inside the provided transaction.
func (s *StayStore) OpenStayTx(ctx context.Context, tx pgx.Tx, lotID, zoneID uuid.UUID, entryTime time.Time) (Stay, error) {
	return s.openStay(ctx, tx, lotID, zoneID, entryTime)
}

func (s *StayStore) openStay(ctx context.Context, q querier, lotID, zoneID uuid.UUID, entryTime time.Time) (Stay, error) {
	if entryTime.IsZero() {
		return Stay{}, errors.New("entry time is required")
	}

	row := q.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (stay_id, lot_id, zone_id, entry_time)
        VALUES ($1, $2, $3, $4)
        RETURNING %s
    `, StaysTable, stayColumns), uuid.New(), lotID, zoneID, entryTime)

	st, err := scanStay(row)
	if err != nil {
		if uniqueViolationOn(err, "stays_one_open_per_lot") {
			return Stay{}, ErrStayConflict
		}
		return Stay{}, err
	}
	return st, nil
}

// CloseStay stamps the exit time on the lot's open stay. The guarded UPDATE
// doubles as the optimistic concurrency check: a racing move that already
// closed the stay makes this return ErrNoOpenStay.
func (s *StayStore) CloseStay(ctx context.Context, lotID uuid.UUID, exitTime time.Time) (Stay, error) {
	return s.closeStay(ctx, s.pool, lotID, exitTime)
}

// CloseStayTx stamps the exit time inside the provided transaction.
func (s *StayStore) CloseStayTx(ctx context.Context, tx pgx.Tx, lotID uuid.UUID, exitTime time.Time) (Stay, error) {
	return s.closeStay(ctx, tx, lotID, exitTime)
}

func (s *StayStore) closeStay(ctx context.Context, q querier, lotID uuid.UUID, exitTime time.Time) (Stay, error) {
	if exitTime.IsZero() {
		return Stay{}, errors.New("exit time is required")
	}

	row := q.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s SET exit_time = $2
        WHERE lot_id = $1 AND exit_time IS NULL
        RETURNING %s
    `, StaysTable, stayColumns), lotID, exitTime)

	st, err := scanStay(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stay{}, ErrNoOpenStay
		}
		return Stay{}, err
	}
	return st, nil
}

// CurrentStay returns the lot's open stay, or nil when the lot is unplaced.
func (s *StayStore) CurrentStay(ctx context.Context, lotID uuid.UUID) (*Stay, error) {
	return s.currentStay(ctx, s.pool, lotID)
}

// CurrentStayTx returns the lot's open stay inside the provided transaction.
func (s *StayStore) CurrentStayTx(ctx context.Context, tx pgx.Tx, lotID uuid.UUID) (*Stay, error) {
	return s.currentStay(ctx, tx, lotID)
}

func (s *StayStore) currentStay(ctx context.Context, q querier, lotID uuid.UUID) (*Stay, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE lot_id = $1 AND exit_time IS NULL
    `, stayColumns, StaysTable), lotID)

	st, err := scanStay(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// History returns every stay of the lot, earliest first.
func (s *StayStore) History(ctx context.Context, lotID uuid.UUID) ([]Stay, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE lot_id = $1
        ORDER BY entry_time ASC, created_at ASC
    `, stayColumns, StaysTable), lotID)
	if err != nil {
		return nil, fmt.Errorf("stay history: %w", err)
	}
	defer rows.Close()

	stays := make([]Stay, 0)
	for rows.Next() {
		st, scanErr := scanStay(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan stay: %w", scanErr)
		}
		stays = append(stays, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stays: %w", err)
	}
	return stays, nil
}

// TimelineEntry is a stay enriched with the zone it happened in, the unit the
// snapshot builder groups into phases.
type TimelineEntry struct {
	Stay
	ZoneName  string      `json:"zoneName"`
	ZoneStage stage.Stage `json:"zoneStage"`
}

// Timeline returns the stays of the given lots joined with zone name and
// stage, earliest first. Callers pass a lot plus its ancestry to assemble a
// sublot's full production history.
func (s *StayStore) Timeline(ctx context.Context, lotIDs []uuid.UUID) ([]TimelineEntry, error) {
	return s.timeline(ctx, s.pool, lotIDs)
}

// TimelineTx is Timeline inside the provided transaction.
func (s *StayStore) TimelineTx(ctx context.Context, tx pgx.Tx, lotIDs []uuid.UUID) ([]TimelineEntry, error) {
	return s.timeline(ctx, tx, lotIDs)
}

func (s *StayStore) timeline(ctx context.Context, q querier, lotIDs []uuid.UUID) ([]TimelineEntry, error) {
	if len(lotIDs) == 0 {
		return []TimelineEntry{}, nil
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
        SELECT st.stay_id, st.lot_id, st.zone_id, st.entry_time, st.exit_time, st.created_at,
               z.name, z.stage
        FROM %s st
        JOIN %s z ON z.zone_id = st.zone_id
        WHERE st.lot_id = ANY($1)
        ORDER BY st.entry_time ASC, st.created_at ASC
    `, StaysTable, ZonesTable), lotIDs)
	if err != nil {
		return nil, fmt.Errorf("stay timeline: %w", err)
	}
	defer rows.Close()

	entries := make([]TimelineEntry, 0)
	for rows.Next() {
		var (
			entry    TimelineEntry
			rawStage string
		)
		if err := rows.Scan(
			&entry.StayID,
			&entry.LotID,
			&entry.ZoneID,
			&entry.EntryTime,
			&entry.ExitTime,
			&entry.CreatedAt,
			&entry.ZoneName,
			&rawStage,
		); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		parsed, err := stage.Parse(rawStage)
		if err != nil {
			return nil, err
		}
		entry.ZoneStage = parsed
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return entries, nil
}

// Occupancy is an open stay joined with its lot and zone, the unit the
// tracking board renders.
type Occupancy struct {
	Lot       Lot
	Stay      Stay
	ZoneName  string
	ZoneStage stage.Stage
}

// ListOccupancies returns every open stay with its lot and zone.
func (s *StayStore) ListOccupancies(ctx context.Context) ([]Occupancy, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        SELECT %s,
               st.stay_id, st.lot_id, st.zone_id, st.entry_time, st.exit_time, st.created_at,
               z.name, z.stage
        FROM %s st
        JOIN %s z ON z.zone_id = st.zone_id
        JOIN %s l ON l.lot_id = st.lot_id
        WHERE st.exit_time IS NULL
        ORDER BY st.entry_time ASC
    `, prefixedLotColumns("l"), StaysTable, ZonesTable, LotsTable))
	if err != nil {
		return nil, fmt.Errorf("list occupancies: %w", err)
	}
	defer rows.Close()

	occupancies := make([]Occupancy, 0)
	for rows.Next() {
		var (
			occ       Occupancy
			lotStatus string
			fields    []byte
			rawStage  string
		)
		if err := rows.Scan(
			&occ.Lot.LotID,
			&occ.Lot.Identification,
			&occ.Lot.InitialCount,
			&occ.Lot.FinalCount,
			&occ.Lot.Regime,
			&occ.Lot.IberianPct,
			&lotStatus,
			&occ.Lot.ParentLotID,
			&occ.Lot.PieceType,
			&fields,
			&occ.Lot.CreatedAt,
			&occ.Lot.UpdatedAt,
			&occ.Stay.StayID,
			&occ.Stay.LotID,
			&occ.Stay.ZoneID,
			&occ.Stay.EntryTime,
			&occ.Stay.ExitTime,
			&occ.Stay.CreatedAt,
			&occ.ZoneName,
			&rawStage,
		); err != nil {
			return nil, fmt.Errorf("scan occupancy: %w", err)
		}
		occ.Lot.Status = LotStatus(lotStatus)
		if len(fields) > 0 {
			if err := decodeJSONMap(fields, &occ.Lot.CustomFields); err != nil {
				return nil, err
			}
		}
		parsed, err := stage.Parse(rawStage)
		if err != nil {
			return nil, err
		}
		occ.ZoneStage = parsed
		occupancies = append(occupancies, occ)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occupancies: %w", err)
	}
	return occupancies, nil
}

func scanStay(row pgx.Row) (Stay, error) {
	var st Stay
	err := row.Scan(
		&st.StayID,
		&st.LotID,
		&st.ZoneID,
		&st.EntryTime,
		&st.ExitTime,
		&st.CreatedAt,
	)
	return st, err
}

func prefixedLotColumns(alias string) string {
	return fmt.Sprintf(
		"%[1]s.lot_id, %[1]s.identification, %[1]s.initial_count, %[1]s.final_count, %[1]s.regime, %[1]s.iberian_pct, %[1]s.status, %[1]s.parent_lot_id, %[1]s.piece_type, %[1]s.custom_fields, %[1]s.created_at, %[1]s.updated_at",
		alias,
	)
}
