package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dehesalabs/trazar/domains/templates/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/problems"
)

// Handler wires the lot field template service to the HTTP API.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("templates service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the template routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/templates/lot-fields", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.put)
	})
}

type templatePayload struct {
	TemplateID string                        `json:"templateId"`
	Fields     []persistence.FieldDefinition `json:"fields"`
	Version    int                           `json:"version"`
	UpdatedAt  string                        `json:"updatedAt"`
}

type putTemplateRequest struct {
	Fields []persistence.FieldDefinition `json:"fields"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	template, err := h.svc.Get(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(template))
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var req putTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.Write(w, problems.Validation("invalid request body"))
		return
	}

	template, err := h.svc.Put(r.Context(), req.Fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(template))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		problems.Write(w, problems.Validation("one or more fields are invalid").WithFieldErrors(validationErr.Fields))
	case errors.Is(err, service.ErrNotFound):
		problems.Write(w, problems.NotFound("no lot field template is defined"))
	default:
		platformlogging.FromRequest(r, h.logger).Error("templates operation failed", zap.Error(err))
		problems.Write(w, problems.Internal())
	}
}

func toPayload(template service.Template) templatePayload {
	return templatePayload{
		TemplateID: template.ID.String(),
		Fields:     template.Fields,
		Version:    template.Version,
		UpdatedAt:  template.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
