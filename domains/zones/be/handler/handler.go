package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dehesalabs/trazar/domains/zones/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/problems"
)

// Handler wires the zones service to the HTTP API.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("zones service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the zone routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/zones", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{zoneId}", h.get)
		r.Patch("/{zoneId}", h.update)
		r.Delete("/{zoneId}", h.delete)
	})
}

type zonePayload struct {
	ZoneID       string                             `json:"zoneId"`
	Name         string                             `json:"name"`
	Stage        string                             `json:"stage"`
	IsActive     bool                               `json:"isActive"`
	TargetRanges map[string]persistence.MetricRange `json:"targetRanges,omitempty"`
	CreatedAt    string                             `json:"createdAt"`
	UpdatedAt    string                             `json:"updatedAt"`
}

type createZoneRequest struct {
	Name         string                             `json:"name"`
	Stage        string                             `json:"stage"`
	TargetRanges map[string]persistence.MetricRange `json:"targetRanges,omitempty"`
}

type updateZoneRequest struct {
	Name         *string                            `json:"name,omitempty"`
	IsActive     *bool                              `json:"isActive,omitempty"`
	TargetRanges map[string]persistence.MetricRange `json:"targetRanges,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := service.ListFilter{}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		filter.Stage = &raw
	}
	if r.URL.Query().Get("onlyActive") == "true" {
		filter.OnlyActive = true
	}

	zones, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]zonePayload, 0, len(zones))
	for _, zone := range zones {
		items = append(items, toPayload(zone))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, problems.Validation("invalid request body"))
		return
	}

	zone, err := h.svc.Create(r.Context(), service.CreateInput{
		Name:         req.Name,
		Stage:        req.Stage,
		TargetRanges: req.TargetRanges,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/zones/"+zone.ID.String())
	writeJSON(w, http.StatusCreated, toPayload(zone))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.zoneID(w, r)
	if !ok {
		return
	}

	zone, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(zone))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.zoneID(w, r)
	if !ok {
		return
	}

	var req updateZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, problems.Validation("invalid request body"))
		return
	}

	zone, err := h.svc.Update(r.Context(), id, service.UpdateInput{
		Name:         req.Name,
		IsActive:     req.IsActive,
		TargetRanges: req.TargetRanges,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(zone))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.zoneID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) zoneID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "zoneId"))
	if err != nil {
		problems.Write(w, problems.Validation("zoneId must be a valid UUID"))
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
		problems.Write(w, problems.NotFound("zone not found"))
	case errors.Is(err, service.ErrConflict):
		problems.Write(w, problems.Conflict("zone name already exists"))
	case errors.Is(err, service.ErrInUse):
		problems.Write(w, problems.Conflict("zone is referenced by stay history"))
	default:
		h.loggerFrom(r).Error("zones operation failed", zap.Error(err))
		problems.Write(w, problems.Internal())
	}
}

func (h *Handler) loggerFrom(r *http.Request) *zap.Logger {
	if logger, ok := platformlogging.FromContext(r.Context()); ok {
		return logger
	}
	return h.logger
}

func toPayload(zone service.Zone) zonePayload {
	return zonePayload{
		ZoneID:       zone.ID.String(),
		Name:         zone.Name,
		Stage:        zone.Stage.String(),
		IsActive:     zone.IsActive,
		TargetRanges: zone.TargetRanges,
		CreatedAt:    zone.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    zone.UpdatedAt.UTC().Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
