package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dehesalabs/trazar/domains/movements/be/service"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
)

type mockService struct {
	moveFn func(ctx context.Context, lotID uuid.UUID, input service.MoveInput) (service.MoveResult, error)
}

func (m *mockService) Move(ctx context.Context, lotID uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
	if m.moveFn == nil {
		panic("moveFn not configured")
	}
	return m.moveFn(ctx, lotID, input)
}

func newTestRouter(svc service.Service, t *testing.T) chi.Router {
	r := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Mount(r)
	return r
}

func doMove(t *testing.T, router chi.Router, lotID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/lots/"+lotID+"/move", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMoveEndpointSuccess(t *testing.T) {
	t.Parallel()

	lotID := uuid.New()
	zoneID := uuid.New()
	entry := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	svc := &mockService{
		moveFn: func(ctx context.Context, gotLot uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
			require.Equal(t, lotID, gotLot)
			require.NotNil(t, input.ZoneID)
			require.Equal(t, zoneID, *input.ZoneID)
			require.False(t, input.Finalize)
			require.True(t, input.EntryTime.Equal(entry))
			return service.MoveResult{
				Lot: persistence.Lot{
					LotID:          lotID,
					Identification: "L1",
					InitialCount:   50,
					Status:         persistence.LotStatusActive,
				},
				Stay: &persistence.Stay{
					StayID:    uuid.New(),
					LotID:     lotID,
					ZoneID:    zoneID,
					EntryTime: entry,
				},
			}, nil
		},
	}

	rec := doMove(t, newTestRouter(svc, t), lotID.String(),
		`{"zoneId":"`+zoneID.String()+`","entryTime":"2025-03-01T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp moveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, lotID.String(), resp.Lot.LotID)
	require.NotNil(t, resp.Stay)
	require.Equal(t, zoneID.String(), resp.Stay.ZoneID)
	require.Empty(t, resp.SubLots)
	require.Empty(t, resp.QrSnapshots)
}

func TestMoveEndpointSplitWithQR(t *testing.T) {
	t.Parallel()

	lotID := uuid.New()
	zoneID := uuid.New()

	svc := &mockService{
		moveFn: func(ctx context.Context, gotLot uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
			require.Len(t, input.SubLots, 2)
			require.Equal(t, service.SubLotSpec{Name: "Jamón", Pieces: 80}, input.SubLots[0])
			require.True(t, input.GenerateQR)

			jamonID := uuid.New()
			paletaID := uuid.New()
			pieceJamon := "Jamón"
			piecePaleta := "Paleta"
			parent := persistence.Lot{LotID: lotID, Identification: "L1", InitialCount: 50, Status: persistence.LotStatusActive}
			return service.MoveResult{
				Lot: parent,
				SubLots: []service.SubLotResult{
					{
						Lot:  persistence.Lot{LotID: jamonID, Identification: "L1-Jamón", InitialCount: 80, ParentLotID: &lotID, PieceType: &pieceJamon, Status: persistence.LotStatusActive},
						Stay: persistence.Stay{StayID: uuid.New(), LotID: jamonID, ZoneID: zoneID, EntryTime: time.Now().UTC()},
					},
					{
						Lot:  persistence.Lot{LotID: paletaID, Identification: "L1-Paleta", InitialCount: 40, ParentLotID: &lotID, PieceType: &piecePaleta, Status: persistence.LotStatusActive},
						Stay: persistence.Stay{StayID: uuid.New(), LotID: paletaID, ZoneID: zoneID, EntryTime: time.Now().UTC()},
					},
				},
				Snapshots: []persistence.SnapshotRecord{
					{SnapshotID: uuid.New(), LotID: jamonID, PublicToken: "token-jamon"},
					{SnapshotID: uuid.New(), LotID: paletaID, PublicToken: "token-paleta"},
				},
			}, nil
		},
	}

	rec := doMove(t, newTestRouter(svc, t), lotID.String(),
		`{"zoneId":"`+zoneID.String()+`","entryTime":"2025-03-01T10:00:00Z","generateQR":true,"subLotes":[{"name":"Jamón","pieces":80},{"name":"Paleta","pieces":40}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp moveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.SubLots, 2)
	require.Equal(t, "L1-Jamón", resp.SubLots[0].Lot.Identification)
	require.Len(t, resp.QrSnapshots, 2)
	require.Equal(t, "token-jamon", resp.QrSnapshots[0].PublicToken)
}

func TestMoveEndpointFinalizeSentinel(t *testing.T) {
	t.Parallel()

	lotID := uuid.New()
	svc := &mockService{
		moveFn: func(ctx context.Context, gotLot uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
			require.True(t, input.Finalize)
			require.Nil(t, input.ZoneID)
			return service.MoveResult{
				Lot: persistence.Lot{LotID: lotID, Identification: "L1", InitialCount: 50, Status: persistence.LotStatusFinished},
			}, nil
		},
	}

	rec := doMove(t, newTestRouter(svc, t), lotID.String(),
		`{"zoneId":"finalizado","entryTime":"2025-03-01T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp moveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(persistence.LotStatusFinished), resp.Lot.Status)
	require.Nil(t, resp.Stay)
}

func TestMoveEndpointInvalidTransition(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		moveFn: func(ctx context.Context, lotID uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
			return service.MoveResult{}, &service.InvalidTransitionError{From: stage.Cria, To: stage.Matadero}
		},
	}

	rec := doMove(t, newTestRouter(svc, t), uuid.NewString(),
		`{"zoneId":"`+uuid.NewString()+`","entryTime":"2025-03-01T10:00:00Z"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMoveEndpointValidationErrorCarriesFields(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		moveFn: func(ctx context.Context, lotID uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
			return service.MoveResult{}, &service.ValidationError{Fields: service.FieldErrors{"entryTime": {"required"}}}
		},
	}

	rec := doMove(t, newTestRouter(svc, t), uuid.NewString(),
		`{"zoneId":"`+uuid.NewString()+`"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem struct {
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Errors["entryTime"], "required")
}

func TestMoveEndpointErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "lot not found", err: service.ErrLotNotFound, status: http.StatusNotFound},
		{name: "zone not found", err: service.ErrZoneNotFound, status: http.StatusNotFound},
		{name: "concurrent move", err: service.ErrConflict, status: http.StatusConflict},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockService{
				moveFn: func(ctx context.Context, lotID uuid.UUID, input service.MoveInput) (service.MoveResult, error) {
					return service.MoveResult{}, tc.err
				},
			}

			rec := doMove(t, newTestRouter(svc, t), uuid.NewString(),
				`{"zoneId":"`+uuid.NewString()+`","entryTime":"2025-03-01T10:00:00Z"}`)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMoveEndpointRejectsBadInput(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&mockService{}, t)

	// malformed lot id
	rec := doMove(t, router, "not-a-uuid", `{"zoneId":"finalizado","entryTime":"2025-03-01T10:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed body
	rec = doMove(t, router, uuid.NewString(), `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// missing zoneId
	rec = doMove(t, router, uuid.NewString(), `{"entryTime":"2025-03-01T10:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// zoneId neither UUID nor the finalize literal
	rec = doMove(t, router, uuid.NewString(), `{"zoneId":"secadero","entryTime":"2025-03-01T10:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
