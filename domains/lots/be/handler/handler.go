package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dehesalabs/trazar/domains/lots/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/problems"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Handler wires the lots service to the HTTP API.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("lots service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the lot CRUD routes on the router. Move and snapshot
// subroutes are owned by their own domains and mounted alongside.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/lots", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{lotId}", h.get)
		r.Patch("/{lotId}", h.update)
		r.Delete("/{lotId}", h.delete)
	})
}

type lotPayload struct {
	LotID          string         `json:"lotId"`
	Identification string         `json:"identification"`
	InitialCount   int            `json:"initialCount"`
	FinalCount     *int           `json:"finalCount,omitempty"`
	Regime         *string        `json:"regime,omitempty"`
	IberianPct     *float64       `json:"iberianPct,omitempty"`
	Status         string         `json:"status"`
	ParentLotID    *string        `json:"parentLotId,omitempty"`
	PieceType      *string        `json:"pieceType,omitempty"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt"`
}

type createLotRequest struct {
	Identification string         `json:"identification"`
	InitialCount   int            `json:"initialCount"`
	Regime         *string        `json:"regime,omitempty"`
	IberianPct     *float64       `json:"iberianPct,omitempty"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
}

type updateLotRequest struct {
	Identification *string        `json:"identification,omitempty"`
	FinalCount     *int           `json:"finalCount,omitempty"`
	Regime         *string        `json:"regime,omitempty"`
	IberianPct     *float64       `json:"iberianPct,omitempty"`
	CustomFields   map[string]any `json:"customFields,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := service.ListFilter{}
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		filter.Status = &raw
	}
	if raw := query.Get("parentLotId"); raw != "" {
		parent, err := uuid.Parse(raw)
		if err != nil {
			problems.Write(w, problems.Validation("parentLotId must be a valid UUID"))
			return
		}
		filter.ParentID = &parent
	}
	filter.Page, _ = strconv.Atoi(query.Get("page"))
	filter.PageSize, _ = strconv.Atoi(query.Get("pageSize"))

	result, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]lotPayload, 0, len(result.Lots))
	for _, lot := range result.Lots {
		items = append(items, toPayload(lot))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"totalItems": result.TotalItems,
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, problems.Validation("invalid request body"))
		return
	}

	lot, err := h.svc.Create(r.Context(), service.CreateInput{
		Identification: req.Identification,
		InitialCount:   req.InitialCount,
		Regime:         req.Regime,
		IberianPct:     req.IberianPct,
		CustomFields:   req.CustomFields,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/lots/"+lot.ID.String())
	writeJSON(w, http.StatusCreated, toPayload(lot))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lotID(w, r)
	if !ok {
		return
	}

	lot, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(lot))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lotID(w, r)
	if !ok {
		return
	}

	var req updateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, problems.Validation("invalid request body"))
		return
	}

	lot, err := h.svc.Update(r.Context(), id, service.UpdateInput{
		Identification: req.Identification,
		FinalCount:     req.FinalCount,
		Regime:         req.Regime,
		IberianPct:     req.IberianPct,
		CustomFields:   req.CustomFields,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(lot))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.lotID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "lotId"))
	if err != nil {
		problems.Write(w, problems.Validation("lotId must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		problems.Write(w, problems.Validation("one or more fields are invalid").WithFieldErrors(validationErr.Fields))
	case errors.Is(err, service.ErrNotFound):
		problems.Write(w, problems.NotFound("lot not found"))
	case errors.Is(err, service.ErrConflict):
		problems.Write(w, problems.Conflict("lot identification already exists"))
	case errors.Is(err, service.ErrHasStays):
		problems.Write(w, problems.Conflict("lot has stay history"))
	case errors.Is(err, service.ErrHasSublots):
		problems.Write(w, problems.Conflict("lot has sublots"))
	default:
		h.loggerFrom(r).Error("lots operation failed", zap.Error(err))
		problems.Write(w, problems.Internal())
	}
}

func (h *Handler) loggerFrom(r *http.Request) *zap.Logger {
	return platformlogging.FromRequest(r, h.logger)
}

func toPayload(lot service.Lot) lotPayload {
	payload := lotPayload{
		LotID:          lot.ID.String(),
		Identification: lot.Identification,
		InitialCount:   lot.InitialCount,
		FinalCount:     lot.FinalCount,
		Regime:         lot.Regime,
		IberianPct:     lot.IberianPct,
		Status:         string(lot.Status),
		PieceType:      lot.PieceType,
		CustomFields:   lot.CustomFields,
		CreatedAt:      lot.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:      lot.UpdatedAt.UTC().Format(timeFormat),
	}
	if lot.ParentLotID != nil {
		parent := lot.ParentLotID.String()
		payload.ParentLotID = &parent
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
