package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dehesalabs/trazar/domains/traceability/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/problems"
)

// Handler wires the traceability service to the HTTP API.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("traceability service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the authenticated snapshot routes on the API router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/lots/{lotId}/qr-snapshots", h.generate)
	r.Get("/lots/{lotId}/qr-snapshots", h.listByLot)
	r.Put("/qr-snapshots/{snapshotId}/rotate", h.rotate)
	r.Put("/qr-snapshots/{snapshotId}/revoke", h.revoke)
}

// MountPublic registers the unauthenticated trace route on the root router.
func (h *Handler) MountPublic(r chi.Router) {
	r.Get("/trace/{token}", h.trace)
}

type snapshotPayload struct {
	SnapshotID  string          `json:"snapshotId"`
	LotID       string          `json:"lotId"`
	PublicToken string          `json:"publicToken"`
	Data        json.RawMessage `json:"snapshotData"`
	IsActive    bool            `json:"isActive"`
	ScanCount   int64           `json:"scanCount"`
	CreatedAt   string          `json:"createdAt"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	lotID, err := uuid.Parse(chi.URLParam(r, "lotId"))
	if err != nil {
		problems.Write(w, problems.Validation("lotId must be a valid UUID"))
		return
	}

	snapshot, err := h.svc.Generate(r.Context(), lotID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayload(snapshot))
}

func (h *Handler) listByLot(w http.ResponseWriter, r *http.Request) {
	lotID, err := uuid.Parse(chi.URLParam(r, "lotId"))
	if err != nil {
		problems.Write(w, problems.Validation("lotId must be a valid UUID"))
		return
	}

	snapshots, err := h.svc.ListByLot(r.Context(), lotID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]snapshotPayload, 0, len(snapshots))
	for _, snapshot := range snapshots {
		items = append(items, toPayload(snapshot))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.snapshotID(w, r)
	if !ok {
		return
	}

	token, err := h.svc.Rotate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicToken": token})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := h.snapshotID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Revoke(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (h *Handler) trace(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	data, err := h.svc.Resolve(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) snapshotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "snapshotId"))
	if err != nil {
		problems.Write(w, problems.Validation("snapshotId must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrLotNotFound):
		problems.Write(w, problems.NotFound("lot not found"))
	case errors.Is(err, service.ErrSnapshotNotFound):
		problems.Write(w, problems.NotFound("snapshot not found"))
	case errors.Is(err, service.ErrExpired):
		problems.Write(w, problems.Expired("snapshot is no longer resolvable"))
	case errors.Is(err, service.ErrNoHistory):
		problems.Write(w, problems.Validation("lot has no stay history to certify"))
	default:
		platformlogging.FromRequest(r, h.logger).Error("traceability operation failed", zap.Error(err))
		problems.Write(w, problems.Internal())
	}
}

func toPayload(snapshot service.Snapshot) snapshotPayload {
	return snapshotPayload{
		SnapshotID:  snapshot.ID.String(),
		LotID:       snapshot.LotID.String(),
		PublicToken: snapshot.PublicToken,
		Data:        snapshot.Data,
		IsActive:    snapshot.IsActive,
		ScanCount:   snapshot.ScanCount,
		CreatedAt:   snapshot.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
