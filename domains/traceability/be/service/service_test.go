package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
)

type mockRepository struct {
	lotFn       func(ctx context.Context, id uuid.UUID) (persistence.Lot, error)
	timelineFn  func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error)
	aggregateFn func(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error)
	createFn    func(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error)
	getFn       func(ctx context.Context, id uuid.UUID) (persistence.SnapshotRecord, error)
	listFn      func(ctx context.Context, lotID uuid.UUID) ([]persistence.SnapshotRecord, error)
	resolveFn   func(ctx context.Context, token string) (persistence.SnapshotRecord, error)
	rotateFn    func(ctx context.Context, id uuid.UUID, newToken string) (persistence.SnapshotRecord, error)
	revokeFn    func(ctx context.Context, id uuid.UUID) error
}

func (m *mockRepository) Lot(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
	if m.lotFn == nil {
		panic("lotFn not configured")
	}
	return m.lotFn(ctx, id)
}

func (m *mockRepository) LotTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (persistence.Lot, error) {
	return m.Lot(ctx, id)
}

func (m *mockRepository) Timeline(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
	if m.timelineFn == nil {
		panic("timelineFn not configured")
	}
	return m.timelineFn(ctx, lotIDs)
}

func (m *mockRepository) TimelineTx(ctx context.Context, tx pgx.Tx, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
	return m.Timeline(ctx, lotIDs)
}

func (m *mockRepository) AggregateWindow(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
	if m.aggregateFn == nil {
		return map[string]persistence.MetricStats{}, nil
	}
	return m.aggregateFn(ctx, zoneID, from, to)
}

func (m *mockRepository) AggregateWindowTx(ctx context.Context, tx pgx.Tx, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
	return m.AggregateWindow(ctx, zoneID, from, to)
}

func (m *mockRepository) CreateSnapshot(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, params)
}

func (m *mockRepository) CreateSnapshotTx(ctx context.Context, tx pgx.Tx, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
	return m.CreateSnapshot(ctx, params)
}

func (m *mockRepository) GetSnapshot(ctx context.Context, id uuid.UUID) (persistence.SnapshotRecord, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]persistence.SnapshotRecord, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, lotID)
}

func (m *mockRepository) ResolveByToken(ctx context.Context, token string) (persistence.SnapshotRecord, error) {
	if m.resolveFn == nil {
		panic("resolveFn not configured")
	}
	return m.resolveFn(ctx, token)
}

func (m *mockRepository) RotateToken(ctx context.Context, id uuid.UUID, newToken string) (persistence.SnapshotRecord, error) {
	if m.rotateFn == nil {
		panic("rotateFn not configured")
	}
	return m.rotateFn(ctx, id, newToken)
}

func (m *mockRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	if m.revokeFn == nil {
		panic("revokeFn not configured")
	}
	return m.revokeFn(ctx, id)
}

func ts(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func closedEntry(lotID, zoneID uuid.UUID, zoneName string, st stage.Stage, entry, exit time.Time) persistence.TimelineEntry {
	e := persistence.TimelineEntry{
		Stay: persistence.Stay{
			StayID:    uuid.New(),
			LotID:     lotID,
			ZoneID:    zoneID,
			EntryTime: entry,
		},
		ZoneName:  zoneName,
		ZoneStage: st,
	}
	e.ExitTime = &exit
	return e
}

func TestGenerateFourPhaseCertificate(t *testing.T) {
	t.Parallel()

	lotID := uuid.New()
	regime := "bellota"
	pct := 75.0
	zones := map[stage.Stage]uuid.UUID{
		stage.Cria:     uuid.New(),
		stage.Engorde:  uuid.New(),
		stage.Matadero: uuid.New(),
		stage.Secadero: uuid.New(),
	}

	repo := &mockRepository{
		lotFn: func(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
			require.Equal(t, lotID, id)
			return persistence.Lot{
				LotID:          lotID,
				Identification: "L1",
				InitialCount:   50,
				Regime:         &regime,
				IberianPct:     &pct,
				Status:         persistence.LotStatusActive,
			}, nil
		},
		timelineFn: func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
			require.Equal(t, []uuid.UUID{lotID}, lotIDs)
			return []persistence.TimelineEntry{
				closedEntry(lotID, zones[stage.Cria], "Finca", stage.Cria, ts(2024, 1, 1), ts(2024, 3, 1)),
				closedEntry(lotID, zones[stage.Engorde], "Cebadero", stage.Engorde, ts(2024, 3, 1), ts(2024, 6, 1)),
				closedEntry(lotID, zones[stage.Matadero], "Sala", stage.Matadero, ts(2024, 6, 1), ts(2024, 7, 1)),
				closedEntry(lotID, zones[stage.Secadero], "Nave 1", stage.Secadero, ts(2024, 7, 1), ts(2025, 7, 1)),
			}, nil
		},
		aggregateFn: func(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
			if zoneID != zones[stage.Secadero] {
				return map[string]persistence.MetricStats{}, nil
			}
			return map[string]persistence.MetricStats{
				"temperature": {Avg: 14.5, Min: 11, Max: 18, Count: 100, InTarget: 90, WithTarget: 100},
				"humidity":    {Avg: 70, Min: 60, Max: 80, Count: 100},
			}, nil
		},
		createFn: func(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
			require.Len(t, params.PublicToken, 64)
			return persistence.SnapshotRecord{
				SnapshotID:  params.SnapshotID,
				LotID:       params.LotID,
				PublicToken: params.PublicToken,
				Data:        params.Data,
				IsActive:    true,
				CreatedAt:   ts(2025, 7, 1),
			}, nil
		},
	}

	svc := New(repo).(*service)
	svc.now = func() time.Time { return ts(2025, 7, 1) }

	snapshot, err := svc.Generate(context.Background(), lotID)
	require.NoError(t, err)
	require.True(t, snapshot.IsActive)

	var data SnapshotData
	require.NoError(t, json.Unmarshal(snapshot.Data, &data))

	require.Equal(t, "L1", data.Lote.Name)
	require.Equal(t, &regime, data.Lote.Regime)
	require.NotNil(t, data.Metadata.TotalAnimals)
	require.Equal(t, 50, *data.Metadata.TotalAnimals)
	require.Equal(t, snapshotVersion, data.Metadata.Version)

	require.Len(t, data.Phases, 4)
	order := []string{"cria", "engorde", "matadero", "secadero"}
	for i, phase := range data.Phases {
		require.Equal(t, order[i], phase.Stage)
		require.GreaterOrEqual(t, phase.Duration, 0.0)
	}

	secadero := data.Phases[3]
	require.Equal(t, []string{"Nave 1"}, secadero.Zones)
	require.InDelta(t, 365, secadero.Duration, 1)

	temp := secadero.Metrics["temperature"]
	require.InDelta(t, 14.5, temp.Avg, 0.001)
	require.Equal(t, 11.0, temp.Min)
	require.Equal(t, 18.0, temp.Max)
	require.NotNil(t, temp.PctInTarget)
	require.InDelta(t, 90, *temp.PctInTarget, 0.001)

	// no target range declared for humidity
	humidity := secadero.Metrics["humidity"]
	require.Nil(t, humidity.PctInTarget)
}

func TestGenerateWalksSublotAncestry(t *testing.T) {
	t.Parallel()

	parentID := uuid.New()
	childID := uuid.New()
	pieceType := "Jamón"
	zoneID := uuid.New()

	lots := map[uuid.UUID]persistence.Lot{
		parentID: {LotID: parentID, Identification: "L1", InitialCount: 50, Status: persistence.LotStatusActive},
		childID: {
			LotID:          childID,
			Identification: "L1-Jamón",
			InitialCount:   80,
			Status:         persistence.LotStatusActive,
			ParentLotID:    &parentID,
			PieceType:      &pieceType,
		},
	}

	var requested []uuid.UUID
	repo := &mockRepository{
		lotFn: func(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
			lot, ok := lots[id]
			if !ok {
				return persistence.Lot{}, persistence.ErrLotNotFound
			}
			return lot, nil
		},
		timelineFn: func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
			requested = lotIDs
			return []persistence.TimelineEntry{
				closedEntry(parentID, zoneID, "Finca", stage.Cria, ts(2024, 1, 1), ts(2024, 3, 1)),
			}, nil
		},
		createFn: func(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
			return persistence.SnapshotRecord{
				SnapshotID:  params.SnapshotID,
				LotID:       params.LotID,
				PublicToken: params.PublicToken,
				Data:        params.Data,
				IsActive:    true,
			}, nil
		},
	}

	svc := New(repo)
	snapshot, err := svc.Generate(context.Background(), childID)
	require.NoError(t, err)

	// ancestry goes root first so the timeline reads chronologically
	require.Equal(t, []uuid.UUID{parentID, childID}, requested)
	require.Equal(t, childID, snapshot.LotID)

	var data SnapshotData
	require.NoError(t, json.Unmarshal(snapshot.Data, &data))
	require.Equal(t, &pieceType, data.Lote.PieceType)
	require.NotNil(t, data.Lote.ParentLote)
	require.Equal(t, parentID.String(), *data.Lote.ParentLote)
	// sublot counts pieces, not animals
	require.Nil(t, data.Metadata.TotalAnimals)
}

func TestGenerateMergesConsecutiveSameStageStays(t *testing.T) {
	t.Parallel()

	lotID := uuid.New()
	zoneA := uuid.New()
	zoneB := uuid.New()

	repo := &mockRepository{
		lotFn: func(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
			return persistence.Lot{LotID: lotID, Identification: "L1", InitialCount: 10, Status: persistence.LotStatusActive}, nil
		},
		timelineFn: func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
			return []persistence.TimelineEntry{
				closedEntry(lotID, zoneA, "Nave 1", stage.Secadero, ts(2024, 1, 1), ts(2024, 2, 1)),
				closedEntry(lotID, zoneB, "Nave 2", stage.Secadero, ts(2024, 2, 1), ts(2024, 4, 1)),
			}, nil
		},
		aggregateFn: func(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
			if zoneID == zoneA {
				return map[string]persistence.MetricStats{
					"temperature": {Avg: 10, Min: 8, Max: 12, Count: 10, InTarget: 5, WithTarget: 10},
				}, nil
			}
			return map[string]persistence.MetricStats{
				"temperature": {Avg: 20, Min: 15, Max: 25, Count: 30, InTarget: 30, WithTarget: 30},
			}, nil
		},
		createFn: func(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
			return persistence.SnapshotRecord{Data: params.Data, LotID: params.LotID, IsActive: true}, nil
		},
	}

	snapshot, err := New(repo).Generate(context.Background(), lotID)
	require.NoError(t, err)

	var data SnapshotData
	require.NoError(t, json.Unmarshal(snapshot.Data, &data))

	require.Len(t, data.Phases, 1)
	phase := data.Phases[0]
	require.Equal(t, "secadero", phase.Stage)
	require.Equal(t, []string{"Nave 1", "Nave 2"}, phase.Zones)

	temp := phase.Metrics["temperature"]
	// weighted by reading count: (10*10 + 20*30) / 40
	require.InDelta(t, 17.5, temp.Avg, 0.001)
	require.Equal(t, 8.0, temp.Min)
	require.Equal(t, 25.0, temp.Max)
	require.NotNil(t, temp.PctInTarget)
	require.InDelta(t, 87.5, *temp.PctInTarget, 0.001)
}

func TestGenerateWithoutHistoryFails(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		lotFn: func(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
			return persistence.Lot{LotID: id, Identification: "L1", InitialCount: 10, Status: persistence.LotStatusActive}, nil
		},
		timelineFn: func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
			return []persistence.TimelineEntry{}, nil
		},
	}

	_, err := New(repo).Generate(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNoHistory)
}

func TestResolveOutcomes(t *testing.T) {
	t.Parallel()

	data := json.RawMessage(`{"lote":{"id":"x"},"phases":[]}`)
	repo := &mockRepository{
		resolveFn: func(ctx context.Context, token string) (persistence.SnapshotRecord, error) {
			switch token {
			case "live":
				return persistence.SnapshotRecord{Data: data, IsActive: true, ScanCount: 1}, nil
			case "revoked":
				return persistence.SnapshotRecord{}, persistence.ErrSnapshotRevoked
			default:
				return persistence.SnapshotRecord{}, persistence.ErrSnapshotNotFound
			}
		},
	}

	svc := New(repo)

	got, err := svc.Resolve(context.Background(), "live")
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(got))

	_, err = svc.Resolve(context.Background(), "revoked")
	require.ErrorIs(t, err, ErrExpired)

	_, err = svc.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRotateAndRevoke(t *testing.T) {
	t.Parallel()

	snapshotID := uuid.New()
	revokedID := uuid.New()

	repo := &mockRepository{
		rotateFn: func(ctx context.Context, id uuid.UUID, newToken string) (persistence.SnapshotRecord, error) {
			require.Len(t, newToken, 64)
			if id == revokedID {
				return persistence.SnapshotRecord{}, persistence.ErrSnapshotRevoked
			}
			return persistence.SnapshotRecord{SnapshotID: id, PublicToken: newToken, IsActive: true}, nil
		},
		revokeFn: func(ctx context.Context, id uuid.UUID) error {
			if id == snapshotID {
				return nil
			}
			return persistence.ErrSnapshotNotFound
		},
	}

	svc := New(repo)

	token, err := svc.Rotate(context.Background(), snapshotID)
	require.NoError(t, err)
	require.Len(t, token, 64)

	// rotation of a revoked snapshot must fail
	_, err = svc.Rotate(context.Background(), revokedID)
	require.ErrorIs(t, err, ErrExpired)

	require.NoError(t, svc.Revoke(context.Background(), snapshotID))
	require.ErrorIs(t, svc.Revoke(context.Background(), uuid.New()), ErrSnapshotNotFound)
}
