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

	"github.com/dehesalabs/trazar/platform/go/stage"
)

const ZonesTable = "zones"

// MetricRange is the inclusive target band for a monitored metric, used by
// snapshot aggregation to compute percent-in-target.
type MetricRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Zone represents a row in the zones table: a named physical location tagged
// with a production stage. Stage is immutable once created.
type Zone struct {
	ZoneID       uuid.UUID              `json:"zoneId"`
	Name         string                 `json:"name"`
	Stage        stage.Stage            `json:"stage"`
	IsActive     bool                   `json:"isActive"`
	TargetRanges map[string]MetricRange `json:"targetRanges,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

var (
	// ErrZoneNotFound indicates a missing zone record.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrZoneConflict indicates a uniqueness violation on name.
	ErrZoneConflict = errors.New("zone name already exists")
	// ErrZoneHasStays rejects deletion of a zone referenced by the ledger.
	ErrZoneHasStays = errors.New("zone is referenced by stays")
)

// ZoneStore exposes persistence helpers for the zones table.
type ZoneStore struct {
	pool *pgxpool.Pool
}

// NewZoneStore returns a store bound to the shared pool.
func NewZoneStore(pool *pgxpool.Pool) (*ZoneStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ZoneStore{pool: pool}, nil
}

// CreateZoneParams captures the fields required to insert a zone record.
type CreateZoneParams struct {
	ZoneID       uuid.UUID
	Name         string
	Stage        stage.Stage
	TargetRanges map[string]MetricRange
}

const zoneColumns = `zone_id, name, stage, is_active, target_ranges, created_at, updated_at`

// CreateZone inserts a new zone and returns the persisted record.
func (s *ZoneStore) CreateZone(ctx context.Context, params CreateZoneParams) (Zone, error) {
	if params.ZoneID == uuid.Nil {
		return Zone{}, errors.New("zone id is required")
	}
	if !stage.IsPhysical(params.Stage) {
		return Zone{}, fmt.Errorf("stage %q cannot be assigned to a zone", params.Stage)
	}

	ranges, err := encodeTargetRanges(params.TargetRanges)
	if err != nil {
		return Zone{}, err
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (zone_id, name, stage, target_ranges)
        VALUES ($1, $2, $3, $4)
        RETURNING %s
    `, ZonesTable, zoneColumns),
		params.ZoneID,
		strings.TrimSpace(params.Name),
		string(params.Stage),
		ranges,
	)

	zone, err := scanZone(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Zone{}, ErrZoneConflict
		}
		return Zone{}, err
	}
	return zone, nil
}

// GetZone returns the zone with the given id.
func (s *ZoneStore) GetZone(ctx context.Context, id uuid.UUID) (Zone, error) {
	return s.getZone(ctx, s.pool, id)
}

// GetZoneTx returns the zone with the given id inside the provided transaction.
func (s *ZoneStore) GetZoneTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Zone, error) {
	return s.getZone(ctx, tx, id)
}

func (s *ZoneStore) getZone(ctx context.Context, q querier, id uuid.UUID) (Zone, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE zone_id = $1`, zoneColumns, ZonesTable), id)
	zone, err := scanZone(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Zone{}, ErrZoneNotFound
		}
		return Zone{}, err
	}
	return zone, nil
}

// ListZonesParams captures filters for ListZones.
type ListZonesParams struct {
	Stage      *stage.Stage
	OnlyActive bool
}

// ListZones returns zones matching the filters ordered by stage position and name.
func (s *ZoneStore) ListZones(ctx context.Context, params ListZonesParams) ([]Zone, error) {
	whereParts := []string{"1=1"}
	var args []any

	if params.Stage != nil {
		args = append(args, string(*params.Stage))
		whereParts = append(whereParts, fmt.Sprintf("stage = $%d", len(args)))
	}
	if params.OnlyActive {
		whereParts = append(whereParts, "is_active = TRUE")
	}

	query := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE %s
        ORDER BY ARRAY_POSITION(ARRAY['cria','engorde','matadero','secadero','distribucion'], stage), name
    `, zoneColumns, ZonesTable, strings.Join(whereParts, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	zones := make([]Zone, 0)
	for rows.Next() {
		zone, scanErr := scanZone(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan zone: %w", scanErr)
		}
		zones = append(zones, zone)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}
	return zones, nil
}

// UpdateZoneParams captures the mutable zone fields. Stage is deliberately
// absent: it is immutable once the zone exists.
type UpdateZoneParams struct {
	Name         *string
	IsActive     *bool
	TargetRanges map[string]MetricRange
}

// UpdateZone applies the provided changes and returns the updated record.
func (s *ZoneStore) UpdateZone(ctx context.Context, id uuid.UUID, params UpdateZoneParams) (Zone, error) {
	setParts := []string{"updated_at = NOW()"}
	var args []any

	if params.Name != nil {
		args = append(args, strings.TrimSpace(*params.Name))
		setParts = append(setParts, fmt.Sprintf("name = $%d", len(args)))
	}
	if params.IsActive != nil {
		args = append(args, *params.IsActive)
		setParts = append(setParts, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if params.TargetRanges != nil {
		ranges, err := encodeTargetRanges(params.TargetRanges)
		if err != nil {
			return Zone{}, err
		}
		args = append(args, ranges)
		setParts = append(setParts, fmt.Sprintf("target_ranges = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(`
        UPDATE %s SET %s
        WHERE zone_id = $%d
        RETURNING %s
    `, ZonesTable, strings.Join(setParts, ", "), len(args), zoneColumns)

	zone, err := scanZone(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Zone{}, ErrZoneNotFound
		}
		if isUniqueViolation(err) {
			return Zone{}, ErrZoneConflict
		}
		return Zone{}, err
	}
	return zone, nil
}

// DeleteZone removes a zone. Rejected while any stay (open or historical)
// references it.
func (s *ZoneStore) DeleteZone(ctx context.Context, id uuid.UUID) error {
	var stays int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE zone_id = $1`, StaysTable), id).Scan(&stays); err != nil {
		return fmt.Errorf("check zone references: %w", err)
	}
	if stays > 0 {
		return ErrZoneHasStays
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE zone_id = $1`, ZonesTable), id)
	if err != nil {
		if foreignKeyViolation(err) {
			return ErrZoneHasStays
		}
		return fmt.Errorf("delete zone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrZoneNotFound
	}
	return nil
}

func scanZone(row pgx.Row) (Zone, error) {
	var (
		zone     Zone
		rawStage string
		ranges   []byte
	)
	err := row.Scan(
		&zone.ZoneID,
		&zone.Name,
		&rawStage,
		&zone.IsActive,
		&ranges,
		&zone.CreatedAt,
		&zone.UpdatedAt,
	)
	if err != nil {
		return Zone{}, err
	}

	parsed, err := stage.Parse(rawStage)
	if err != nil {
		return Zone{}, fmt.Errorf("zone %s: %w", zone.ZoneID, err)
	}
	zone.Stage = parsed

	if len(ranges) > 0 {
		if err := json.Unmarshal(ranges, &zone.TargetRanges); err != nil {
			return Zone{}, fmt.Errorf("decode target ranges: %w", err)
		}
	}
	return zone, nil
}

func encodeTargetRanges(ranges map[string]MetricRange) ([]byte, error) {
	if ranges == nil {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(ranges)
	if err != nil {
		return nil, fmt.Errorf("encode target ranges: %w", err)
	}
	return encoded, nil
}
