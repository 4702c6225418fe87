package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
)

type mockRepository struct {
	createFn func(ctx context.Context, params persistence.CreateZoneParams) (persistence.Zone, error)
	getFn    func(ctx context.Context, id uuid.UUID) (persistence.Zone, error)
	listFn   func(ctx context.Context, params persistence.ListZonesParams) ([]persistence.Zone, error)
	updateFn func(ctx context.Context, id uuid.UUID, params persistence.UpdateZoneParams) (persistence.Zone, error)
	deleteFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockRepository) Create(ctx context.Context, params persistence.CreateZoneParams) (persistence.Zone, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, params)
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Zone, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, id)
}

func (m *mockRepository) List(ctx context.Context, params persistence.ListZonesParams) ([]persistence.Zone, error) {
	if m.listFn == nil {
		panic("listFn not configured")
	}
	return m.listFn(ctx, params)
}

func (m *mockRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateZoneParams) (persistence.Zone, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, id, params)
}

func (m *mockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn == nil {
		panic("deleteFn not configured")
	}
	return m.deleteFn(ctx, id)
}

func TestCreateZone(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		createFn: func(ctx context.Context, params persistence.CreateZoneParams) (persistence.Zone, error) {
			require.Equal(t, "Nave 1", params.Name)
			require.Equal(t, stage.Secadero, params.Stage)
			now := time.Now().UTC()
			return persistence.Zone{
				ZoneID:       params.ZoneID,
				Name:         params.Name,
				Stage:        params.Stage,
				IsActive:     true,
				TargetRanges: params.TargetRanges,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, nil
		},
	}

	zone, err := New(repo).Create(context.Background(), CreateInput{
		Name:  " Nave 1 ",
		Stage: "secadero",
		TargetRanges: map[string]persistence.MetricRange{
			"temperature": {Min: 10, Max: 18},
		},
	})
	require.NoError(t, err)
	require.Equal(t, stage.Secadero, zone.Stage)
	require.True(t, zone.IsActive)
}

func TestCreateZoneValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})

	_, err := svc.Create(context.Background(), CreateInput{
		Name:  "  ",
		Stage: "almacen",
		TargetRanges: map[string]persistence.MetricRange{
			"humidity": {Min: 90, Max: 60},
		},
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "name")
	require.Contains(t, validationErr.Fields, "stage")
	require.Contains(t, validationErr.Fields, "targetRanges")
}

func TestCreateZoneRejectsVirtualStages(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})

	// the virtual buckets never hold zones
	for _, virtual := range []string{"sinUbicacion", "finalizado"} {
		_, err := svc.Create(context.Background(), CreateInput{Name: "Nave", Stage: virtual})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.Contains(t, validationErr.Fields, "stage")
	}
}

func TestListZonesStageFilter(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		listFn: func(ctx context.Context, params persistence.ListZonesParams) ([]persistence.Zone, error) {
			require.NotNil(t, params.Stage)
			require.Equal(t, stage.Engorde, *params.Stage)
			require.True(t, params.OnlyActive)
			return []persistence.Zone{}, nil
		},
	}
	svc := New(repo)

	st := "engorde"
	_, err := svc.List(context.Background(), ListFilter{Stage: &st, OnlyActive: true})
	require.NoError(t, err)

	bogus := "bodega"
	_, err = svc.List(context.Background(), ListFilter{Stage: &bogus})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestUpdateZoneRequiresAField(t *testing.T) {
	t.Parallel()

	_, err := New(&mockRepository{}).Update(context.Background(), uuid.New(), UpdateInput{})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "body")
}

func TestDeleteZoneGuards(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		repo error
		want error
	}{
		{name: "unknown", repo: persistence.ErrZoneNotFound, want: ErrNotFound},
		{name: "in use", repo: persistence.ErrZoneHasStays, want: ErrInUse},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := &mockRepository{
				deleteFn: func(ctx context.Context, id uuid.UUID) error {
					return tc.repo
				},
			}
			require.ErrorIs(t, New(repo).Delete(context.Background(), uuid.New()), tc.want)
		})
	}
}
