package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const SensorReadingsTable = "sensor_readings"

// Reading is a single sensor measurement attached to a zone.
type Reading struct {
	ReadingID  int64     `json:"readingId"`
	ZoneID     uuid.UUID `json:"zoneId"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recordedAt"`
}

// MetricStats aggregates a metric over a stay window. InTarget and WithTarget
// feed the percent-in-target computation; WithTarget is zero when the zone
// declares no band for the metric.
type MetricStats struct {
	Avg        float64
	Min        float64
	Max        float64
	Count      int64
	InTarget   int64
	WithTarget int64
}

// ReadingStore exposes persistence helpers for the sensor_readings table.
type ReadingStore struct {
	pool *pgxpool.Pool
}

// NewReadingStore returns a store bound to the shared pool.
func NewReadingStore(pool *pgxpool.Pool) (*ReadingStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ReadingStore{pool: pool}, nil
}

// InsertReading appends a measurement for a zone.
func (s *ReadingStore) InsertReading(ctx context.Context, zoneID uuid.UUID, metric string, value float64, recordedAt time.Time) (Reading, error) {
	if metric == "" {
		return Reading{}, errors.New("metric is required")
	}
	if recordedAt.IsZero() {
		return Reading{}, errors.New("recorded at is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (zone_id, metric, value, recorded_at)
        VALUES ($1, $2, $3, $4)
        RETURNING reading_id, zone_id, metric, value, recorded_at
    `, SensorReadingsTable), zoneID, metric, value, recordedAt)

	var r Reading
	err := row.Scan(&r.ReadingID, &r.ZoneID, &r.Metric, &r.Value, &r.RecordedAt)
	if err != nil {
		if foreignKeyViolation(err) {
			return Reading{}, ErrZoneNotFound
		}
		return Reading{}, fmt.Errorf("insert reading: %w", err)
	}
	return r, nil
}

// AggregateWindow returns per-metric statistics for readings of a zone inside
// [from, to). An open-ended window passes to as nil. In-target counts come
// from the zone's declared bands, evaluated inside the query against the
// target_ranges jsonb so the stats stay consistent with the zone row read in
// the same transaction.
func (s *ReadingStore) AggregateWindow(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]MetricStats, error) {
	return s.aggregateWindow(ctx, s.pool, zoneID, from, to)
}

// AggregateWindowTx is AggregateWindow inside the provided transaction.
func (s *ReadingStore) AggregateWindowTx(ctx context.Context, tx pgx.Tx, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]MetricStats, error) {
	return s.aggregateWindow(ctx, tx, zoneID, from, to)
}

func (s *ReadingStore) aggregateWindow(ctx context.Context, q querier, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]MetricStats, error) {
	args := []any{zoneID, from}
	upper := "TRUE"
	if to != nil {
		args = append(args, *to)
		upper = "r.recorded_at < $3"
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
        SELECT r.metric,
               AVG(r.value),
               MIN(r.value),
               MAX(r.value),
               COUNT(*),
               COUNT(*) FILTER (
                   WHERE z.target_ranges ? r.metric
                     AND r.value >= (z.target_ranges -> r.metric ->> 'min')::DOUBLE PRECISION
                     AND r.value <= (z.target_ranges -> r.metric ->> 'max')::DOUBLE PRECISION
               ),
               COUNT(*) FILTER (WHERE z.target_ranges ? r.metric)
        FROM %s r
        JOIN %s z ON z.zone_id = r.zone_id
        WHERE r.zone_id = $1 AND r.recorded_at >= $2 AND %s
        GROUP BY r.metric
    `, SensorReadingsTable, ZonesTable, upper), args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate readings: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]MetricStats)
	for rows.Next() {
		var (
			metric string
			st     MetricStats
		)
		if err := rows.Scan(&metric, &st.Avg, &st.Min, &st.Max, &st.Count, &st.InTarget, &st.WithTarget); err != nil {
			return nil, fmt.Errorf("scan metric stats: %w", err)
		}
		stats[metric] = st
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric stats: %w", err)
	}
	return stats, nil
}
