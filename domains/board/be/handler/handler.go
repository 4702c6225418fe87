package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dehesalabs/trazar/domains/board/be/service"
	platformlogging "github.com/dehesalabs/trazar/platform/go/logging"
	"github.com/dehesalabs/trazar/platform/go/problems"
)

// Handler wires the board projection to the HTTP API.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("board service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the board route on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/board", h.board)
}

type zonePayload struct {
	ZoneID   string `json:"zoneId"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

type lotPayload struct {
	LotID          string  `json:"lotId"`
	Identification string  `json:"identification"`
	InitialCount   int     `json:"initialCount"`
	PieceType      *string `json:"pieceType,omitempty"`
	CurrentZone    *string `json:"currentZone,omitempty"`
	EntryTime      *string `json:"entryTime,omitempty"`
	TotalDays      int     `json:"totalDays"`
}

type bucketPayload struct {
	Stage string        `json:"stage"`
	Zones []zonePayload `json:"zones"`
	Lotes []lotPayload  `json:"lotes"`
}

type boardPayload struct {
	Stages       []bucketPayload `json:"stages"`
	SinUbicacion []lotPayload    `json:"sinUbicacion"`
	Finalizado   []lotPayload    `json:"finalizado"`
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	board, err := h.svc.Board(r.Context())
	if err != nil {
		platformlogging.FromRequest(r, h.logger).Error("board assembly failed", zap.Error(err))
		problems.Write(w, problems.Internal())
		return
	}

	payload := boardPayload{
		Stages:       make([]bucketPayload, 0, len(board.Stages)),
		SinUbicacion: mapLots(board.SinUbicacion),
		Finalizado:   mapLots(board.Finalizado),
	}
	for _, bucket := range board.Stages {
		zones := make([]zonePayload, 0, len(bucket.Zones))
		for _, zone := range bucket.Zones {
			zones = append(zones, zonePayload{
				ZoneID:   zone.ID.String(),
				Name:     zone.Name,
				IsActive: zone.IsActive,
			})
		}
		payload.Stages = append(payload.Stages, bucketPayload{
			Stage: bucket.Stage.String(),
			Zones: zones,
			Lotes: mapLots(bucket.Lots),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

func mapLots(lots []service.BoardLot) []lotPayload {
	mapped := make([]lotPayload, 0, len(lots))
	for _, lot := range lots {
		payload := lotPayload{
			LotID:          lot.ID.String(),
			Identification: lot.Identification,
			InitialCount:   lot.InitialCount,
			PieceType:      lot.PieceType,
			CurrentZone:    lot.CurrentZone,
			TotalDays:      lot.TotalDays,
		}
		if lot.EntryTime != nil {
			entry := lot.EntryTime.UTC().Format(time.RFC3339)
			payload.EntryTime = &entry
		}
		mapped = append(mapped, payload)
	}
	return mapped
}
