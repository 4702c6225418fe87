package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dehesalabs/trazar/domains/movements/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/problems"
)

// finalizeSentinel is the literal the move body uses instead of a zone id to
// push a lot into the terminal pseudo-stage.
const finalizeSentinel = "finalizado"

// Handler wires the stage-transition engine to the HTTP API.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("movements service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the move route on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/lots/{lotId}/move", h.move)
}

type subLotSpecRequest struct {
	Name   string `json:"name"`
	Pieces int    `json:"pieces"`
}

type moveRequest struct {
	ZoneID     string              `json:"zoneId"`
	EntryTime  time.Time           `json:"entryTime"`
	SubLotes   []subLotSpecRequest `json:"subLotes,omitempty"`
	GenerateQR bool                `json:"generateQR,omitempty"`
}

type stayPayload struct {
	StayID    string  `json:"stayId"`
	LotID     string  `json:"lotId"`
	ZoneID    string  `json:"zoneId"`
	EntryTime string  `json:"entryTime"`
	ExitTime  *string `json:"exitTime,omitempty"`
}

type subLotPayload struct {
	Lot  lotPayload  `json:"lot"`
	Stay stayPayload `json:"stay"`
}

type snapshotPayload struct {
	SnapshotID  string `json:"snapshotId"`
	LotID       string `json:"lotId"`
	PublicToken string `json:"publicToken"`
}

type lotPayload struct {
	LotID          string   `json:"lotId"`
	Identification string   `json:"identification"`
	InitialCount   int      `json:"initialCount"`
	Status         string   `json:"status"`
	ParentLotID    *string  `json:"parentLotId,omitempty"`
	PieceType      *string  `json:"pieceType,omitempty"`
	Regime         *string  `json:"regime,omitempty"`
	IberianPct     *float64 `json:"iberianPct,omitempty"`
}

type moveResponse struct {
	Lot         lotPayload        `json:"lot"`
	Stay        *stayPayload      `json:"stay,omitempty"`
	SubLots     []subLotPayload   `json:"subLots,omitempty"`
	QrSnapshots []snapshotPayload `json:"qrSnapshots,omitempty"`
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	lotID, err := uuid.Parse(chi.URLParam(r, "lotId"))
	if err != nil {
		problems.Write(w, problems.Validation("lotId must be a valid UUID"))
		return
	}

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, problems.Validation("invalid request body"))
		return
	}

	input := service.MoveInput{
		EntryTime:  req.EntryTime,
		GenerateQR: req.GenerateQR,
	}
	switch req.ZoneID {
	case finalizeSentinel:
		input.Finalize = true
	case "":
		problems.Write(w, problems.Validation("zoneId is required"))
		return
	default:
		zoneID, err := uuid.Parse(req.ZoneID)
		if err != nil {
			problems.Write(w, problems.Validation("zoneId must be a UUID or the literal finalizado"))
			return
		}
		input.ZoneID = &zoneID
	}
	for _, spec := range req.SubLotes {
		input.SubLots = append(input.SubLots, service.SubLotSpec{Name: spec.Name, Pieces: spec.Pieces})
	}

	result, err := h.svc.Move(r.Context(), lotID, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(result))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	var transitionErr *service.InvalidTransitionError
	switch {
	case errors.As(err, &validationErr):
		problems.Write(w, problems.Validation("one or more fields are invalid").WithFieldErrors(validationErr.Fields))
	case errors.As(err, &transitionErr):
		problems.Write(w, problems.InvalidTransition(transitionErr.Error()))
	case errors.Is(err, service.ErrLotNotFound):
		problems.Write(w, problems.NotFound("lot not found"))
	case errors.Is(err, service.ErrZoneNotFound):
		problems.Write(w, problems.NotFound("zone not found"))
	case errors.Is(err, service.ErrConflict):
		problems.Write(w, problems.Conflict("a concurrent move already changed this lot"))
	default:
		platformlogging.FromRequest(r, h.logger).Error("move failed", zap.Error(err))
		problems.Write(w, problems.Internal())
	}
}

func toResponse(result service.MoveResult) moveResponse {
	resp := moveResponse{Lot: toLotPayload(result.Lot)}
	if result.Stay != nil {
		stay := toStayPayload(*result.Stay)
		resp.Stay = &stay
	}
	for _, sub := range result.SubLots {
		resp.SubLots = append(resp.SubLots, subLotPayload{
			Lot:  toLotPayload(sub.Lot),
			Stay: toStayPayload(sub.Stay),
		})
	}
	for _, record := range result.Snapshots {
		resp.QrSnapshots = append(resp.QrSnapshots, snapshotPayload{
			SnapshotID:  record.SnapshotID.String(),
			LotID:       record.LotID.String(),
			PublicToken: record.PublicToken,
		})
	}
	return resp
}

func toLotPayload(lot persistence.Lot) lotPayload {
	payload := lotPayload{
		LotID:          lot.LotID.String(),
		Identification: lot.Identification,
		InitialCount:   lot.InitialCount,
		Status:         string(lot.Status),
		PieceType:      lot.PieceType,
		Regime:         lot.Regime,
		IberianPct:     lot.IberianPct,
	}
	if lot.ParentLotID != nil {
		parent := lot.ParentLotID.String()
		payload.ParentLotID = &parent
	}
	return payload
}

func toStayPayload(stay persistence.Stay) stayPayload {
	payload := stayPayload{
		StayID:    stay.StayID.String(),
		LotID:     stay.LotID.String(),
		ZoneID:    stay.ZoneID.String(),
		EntryTime: stay.EntryTime.UTC().Format(time.RFC3339),
	}
	if stay.ExitTime != nil {
		exit := stay.ExitTime.UTC().Format(time.RFC3339)
		payload.ExitTime = &exit
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
