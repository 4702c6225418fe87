package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dehesalabs/trazar/domains/movements/be/repo"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
)

type fixture struct {
	repo   *repo.MemoryRepository
	svc    Service
	lot    persistence.Lot
	zones  map[stage.Stage]persistence.Zone
	tstamp time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	memory := repo.NewMemoryRepository()

	lot := persistence.Lot{
		LotID:          uuid.New(),
		Identification: "L1",
		InitialCount:   50,
		Status:         persistence.LotStatusActive,
	}
	memory.SeedLot(lot)

	zones := make(map[stage.Stage]persistence.Zone)
	for _, st := range stage.Physical() {
		zone := persistence.Zone{
			ZoneID:   uuid.New(),
			Name:     "zone " + st.String(),
			Stage:    st,
			IsActive: true,
		}
		memory.SeedZone(zone)
		zones[st] = zone
	}

	return &fixture{
		repo:   memory,
		svc:    New(memory, cfg),
		lot:    lot,
		zones:  zones,
		tstamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) move(t *testing.T, target stage.Stage, entry time.Time) MoveResult {
	t.Helper()
	zone := f.zones[target]
	result, err := f.svc.Move(context.Background(), f.lot.LotID, MoveInput{
		ZoneID:    &zone.ZoneID,
		EntryTime: entry,
	})
	require.NoError(t, err)
	return result
}

func TestMoveThroughPipelineWithSplit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.move(t, stage.Cria, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f.move(t, stage.Engorde, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	f.move(t, stage.Matadero, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	splitTime := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	secadero := f.zones[stage.Secadero]
	result, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:    &secadero.ZoneID,
		EntryTime: splitTime,
		SubLots: []SubLotSpec{
			{Name: "Jamón", Pieces: 80},
			{Name: "Paleta", Pieces: 40},
		},
	})
	require.NoError(t, err)

	// the parent keeps its own presence in secadero
	require.NotNil(t, result.Stay)
	require.Equal(t, secadero.ZoneID, result.Stay.ZoneID)
	require.True(t, result.Stay.EntryTime.Equal(splitTime))

	require.Len(t, result.SubLots, 2)
	pieces := map[string]int{}
	for _, sub := range result.SubLots {
		require.NotNil(t, sub.Lot.ParentLotID)
		require.Equal(t, f.lot.LotID, *sub.Lot.ParentLotID)
		require.NotNil(t, sub.Lot.PieceType)
		pieces[*sub.Lot.PieceType] = sub.Lot.InitialCount

		require.Equal(t, secadero.ZoneID, sub.Stay.ZoneID)
		require.True(t, sub.Stay.EntryTime.Equal(splitTime))
		require.Nil(t, sub.Stay.ExitTime)
	}
	require.Equal(t, map[string]int{"Jamón": 80, "Paleta": 40}, pieces)

	// three lots total, each with exactly one open stay
	require.Len(t, f.repo.Lots(), 3)
	require.Equal(t, 1, f.repo.OpenStays(f.lot.LotID))
	for _, sub := range result.SubLots {
		require.Equal(t, 1, f.repo.OpenStays(sub.Lot.LotID))
	}
}

func TestMoveRejectsNonAdjacentStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.move(t, stage.Cria, f.tstamp)

	// skipping ahead
	distribucion := f.zones[stage.Distribucion]
	_, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:    &distribucion.ZoneID,
		EntryTime: f.tstamp.Add(time.Hour),
	})
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, stage.Cria, transitionErr.From)
	require.Equal(t, stage.Distribucion, transitionErr.To)

	// going backward
	f.move(t, stage.Engorde, f.tstamp.Add(2*time.Hour))
	cria := f.zones[stage.Cria]
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:    &cria.ZoneID,
		EntryTime: f.tstamp.Add(3 * time.Hour),
	})
	require.ErrorAs(t, err, &transitionErr)
}

func TestMoveRejectsInvalidSublotSpecs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.move(t, stage.Cria, f.tstamp)
	staysBefore := len(f.repo.Stays())
	lotsBefore := len(f.repo.Lots())

	engorde := f.zones[stage.Engorde]
	_, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:    &engorde.ZoneID,
		EntryTime: f.tstamp.Add(time.Hour),
		SubLots: []SubLotSpec{
			{Name: "", Pieces: 10},
			{Name: "Lomo", Pieces: 0},
		},
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	// nothing changed: no new lots, no new stays, old stay still open
	require.Len(t, f.repo.Lots(), lotsBefore)
	require.Len(t, f.repo.Stays(), staysBefore)
	require.Equal(t, 1, f.repo.OpenStays(f.lot.LotID))
}

func TestMoveFinalize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	entry := f.tstamp
	for _, st := range stage.Physical() {
		f.move(t, st, entry)
		entry = entry.Add(30 * 24 * time.Hour)
	}

	result, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		Finalize:  true,
		EntryTime: entry,
	})
	require.NoError(t, err)
	require.Equal(t, persistence.LotStatusFinished, result.Lot.Status)
	require.Nil(t, result.Stay)
	require.Equal(t, 0, f.repo.OpenStays(f.lot.LotID))

	// a finished lot cannot move again
	cria := f.zones[stage.Cria]
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:    &cria.ZoneID,
		EntryTime: entry.Add(time.Hour),
	})
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, stage.Finalizado, transitionErr.From)
}

func TestMoveGeneratesSnapshots(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.move(t, stage.Cria, f.tstamp)
	f.move(t, stage.Engorde, f.tstamp.AddDate(0, 2, 0))
	f.move(t, stage.Matadero, f.tstamp.AddDate(0, 5, 0))
	f.move(t, stage.Secadero, f.tstamp.AddDate(0, 6, 0))

	distribucion := f.zones[stage.Distribucion]
	result, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:     &distribucion.ZoneID,
		EntryTime:  f.tstamp.AddDate(1, 0, 0),
		GenerateQR: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Snapshots, 1)
	require.Equal(t, f.lot.LotID, result.Snapshots[0].LotID)
	require.NotEmpty(t, result.Snapshots[0].PublicToken)
}

func TestMoveSplitWithQRGeneratesPerSublot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.move(t, stage.Cria, f.tstamp)
	f.move(t, stage.Engorde, f.tstamp.AddDate(0, 2, 0))
	f.move(t, stage.Matadero, f.tstamp.AddDate(0, 5, 0))

	secadero := f.zones[stage.Secadero]
	result, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:     &secadero.ZoneID,
		EntryTime:  f.tstamp.AddDate(0, 6, 0),
		GenerateQR: true,
		SubLots: []SubLotSpec{
			{Name: "Jamón", Pieces: 80},
			{Name: "Paleta", Pieces: 40},
		},
	})
	require.NoError(t, err)

	// one certificate per sublot, none for the parent by default
	require.Len(t, result.Snapshots, 2)
	certified := map[uuid.UUID]bool{}
	for _, record := range result.Snapshots {
		certified[record.LotID] = true
	}
	for _, sub := range result.SubLots {
		require.True(t, certified[sub.Lot.LotID])
	}
	require.False(t, certified[f.lot.LotID])
}

func TestMoveSplitWithQRIncludesParentWhenConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{SnapshotParentOnSplit: true})
	ctx := context.Background()

	f.move(t, stage.Cria, f.tstamp)
	f.move(t, stage.Engorde, f.tstamp.AddDate(0, 2, 0))
	f.move(t, stage.Matadero, f.tstamp.AddDate(0, 5, 0))

	secadero := f.zones[stage.Secadero]
	result, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:     &secadero.ZoneID,
		EntryTime:  f.tstamp.AddDate(0, 6, 0),
		GenerateQR: true,
		SubLots:    []SubLotSpec{{Name: "Jamón", Pieces: 80}},
	})
	require.NoError(t, err)
	require.Len(t, result.Snapshots, 2)

	certified := map[uuid.UUID]bool{}
	for _, record := range result.Snapshots {
		certified[record.LotID] = true
	}
	require.True(t, certified[f.lot.LotID])
}

func TestMoveInputValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	cria := f.zones[stage.Cria]

	var validationErr *ValidationError

	// neither zone nor finalize
	_, err := f.svc.Move(ctx, f.lot.LotID, MoveInput{EntryTime: f.tstamp})
	require.ErrorAs(t, err, &validationErr)

	// both zone and finalize
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{
		ZoneID:    &cria.ZoneID,
		Finalize:  true,
		EntryTime: f.tstamp,
	})
	require.ErrorAs(t, err, &validationErr)

	// missing entry time
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{ZoneID: &cria.ZoneID})
	require.ErrorAs(t, err, &validationErr)

	// splitting while finalizing
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{
		Finalize:  true,
		EntryTime: f.tstamp,
		SubLots:   []SubLotSpec{{Name: "Jamón", Pieces: 10}},
	})
	require.ErrorAs(t, err, &validationErr)

	// unknown lot
	_, err = f.svc.Move(ctx, uuid.New(), MoveInput{ZoneID: &cria.ZoneID, EntryTime: f.tstamp})
	require.ErrorIs(t, err, ErrLotNotFound)

	// unknown zone
	missing := uuid.New()
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{ZoneID: &missing, EntryTime: f.tstamp})
	require.ErrorIs(t, err, ErrZoneNotFound)

	// inactive zone
	inactive := persistence.Zone{ZoneID: uuid.New(), Name: "closed barn", Stage: stage.Cria}
	f.repo.SeedZone(inactive)
	_, err = f.svc.Move(ctx, f.lot.LotID, MoveInput{ZoneID: &inactive.ZoneID, EntryTime: f.tstamp})
	require.ErrorAs(t, err, &validationErr)
}
