package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/dehesalabs/trazar/domains/lots/be/repo"
	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain-level error sentinel values.
var (
	ErrNotFound   = errors.New("lot not found")
	ErrConflict   = errors.New("lot conflict")
	ErrHasStays   = errors.New("lot has stay history")
	ErrHasSublots = errors.New("lot has sublots")
)

// Lot represents a tracked batch managed by the domain service.
type Lot struct {
	ID             uuid.UUID
	Identification string
	InitialCount   int
	FinalCount     *int
	Regime         *string
	IberianPct     *float64
	Status         persistence.LotStatus
	ParentLotID    *uuid.UUID
	PieceType      *string
	CustomFields   map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateInput defines the payload required to register a root lot. Sublots
// are never created here, only by the stage-transition engine.
type CreateInput struct {
	Identification string
	InitialCount   int
	Regime         *string
	IberianPct     *float64
	CustomFields   map[string]any
}

// UpdateInput defines the fields that can be modified for an existing lot.
// CustomFields replaces the whole bag when non-nil.
type UpdateInput struct {
	Identification *string
	FinalCount     *int
	Regime         *string
	IberianPct     *float64
	CustomFields   map[string]any
}

// ListFilter narrows and paginates List results.
type ListFilter struct {
	Status   *string
	ParentID *uuid.UUID
	Page     int
	PageSize int
}

// ListResult carries one page of lots plus pagination metadata.
type ListResult struct {
	Lots       []Lot
	TotalItems int
}

// Service exposes the lots domain operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Lot, error)
	Get(ctx context.Context, id uuid.UUID) (Lot, error)
	List(ctx context.Context, filter ListFilter) (ListResult, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Lot, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo      domainrepo.Repository
	validator *persistence.TemplateValidator
}

// New builds a lots Service backed by the provided repository.
func New(repo domainrepo.Repository) Service {
	return &service{
		repo:      repo,
		validator: persistence.NewTemplateValidator(),
	}
}

func (s *service) Create(ctx context.Context, input CreateInput) (Lot, error) {
	errs := FieldErrors{}

	identification := strings.TrimSpace(input.Identification)
	if identification == "" {
		errs.add("identification", "identification is required")
	}
	if input.InitialCount <= 0 {
		errs.add("initialCount", "initialCount must be positive")
	}
	if input.IberianPct != nil && (*input.IberianPct < 0 || *input.IberianPct > 100) {
		errs.add("iberianPct", "iberianPct must be between 0 and 100")
	}

	if len(errs) > 0 {
		return Lot{}, &ValidationError{Fields: errs}
	}

	if err := s.validateCustomFields(ctx, input.CustomFields); err != nil {
		return Lot{}, err
	}

	record, err := s.repo.Create(ctx, persistence.CreateLotParams{
		LotID:          uuid.New(),
		Identification: identification,
		InitialCount:   input.InitialCount,
		Regime:         input.Regime,
		IberianPct:     input.IberianPct,
		CustomFields:   input.CustomFields,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrLotConflict) {
			return Lot{}, ErrConflict
		}
		return Lot{}, err
	}

	return mapLot(record), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Lot, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrLotNotFound) {
			return Lot{}, ErrNotFound
		}
		return Lot{}, err
	}
	return mapLot(record), nil
}

func (s *service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	params := persistence.ListLotsParams{
		ParentLotID: filter.ParentID,
		Page:        filter.Page,
		PageSize:    filter.PageSize,
	}
	if filter.Status != nil {
		status := persistence.LotStatus(*filter.Status)
		if status != persistence.LotStatusActive && status != persistence.LotStatusFinished {
			return ListResult{}, &ValidationError{Fields: FieldErrors{"status": []string{"status must be active or finished"}}}
		}
		params.Status = &status
	}

	result, err := s.repo.List(ctx, params)
	if err != nil {
		return ListResult{}, err
	}

	lots := make([]Lot, 0, len(result.Lots))
	for _, record := range result.Lots {
		lots = append(lots, mapLot(record))
	}
	return ListResult{Lots: lots, TotalItems: result.TotalItems}, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Lot, error) {
	errs := FieldErrors{}

	var identification *string
	if input.Identification != nil {
		trimmed := strings.TrimSpace(*input.Identification)
		if trimmed == "" {
			errs.add("identification", "identification is required")
		} else {
			identification = &trimmed
		}
	}
	if input.FinalCount != nil && *input.FinalCount < 0 {
		errs.add("finalCount", "finalCount must not be negative")
	}
	if input.IberianPct != nil && (*input.IberianPct < 0 || *input.IberianPct > 100) {
		errs.add("iberianPct", "iberianPct must be between 0 and 100")
	}
	if input.Identification == nil && input.FinalCount == nil && input.Regime == nil &&
		input.IberianPct == nil && input.CustomFields == nil {
		errs.add("body", "at least one field must be provided")
	}

	if len(errs) > 0 {
		return Lot{}, &ValidationError{Fields: errs}
	}

	if input.CustomFields != nil {
		if err := s.validateCustomFields(ctx, input.CustomFields); err != nil {
			return Lot{}, err
		}
	}

	record, err := s.repo.Update(ctx, id, persistence.UpdateLotParams{
		Identification: identification,
		FinalCount:     input.FinalCount,
		Regime:         input.Regime,
		IberianPct:     input.IberianPct,
		CustomFields:   input.CustomFields,
	})
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrLotNotFound):
			return Lot{}, ErrNotFound
		case errors.Is(err, persistence.ErrLotConflict):
			return Lot{}, ErrConflict
		default:
			return Lot{}, err
		}
	}

	return mapLot(record), nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, persistence.ErrLotNotFound):
			return ErrNotFound
		case errors.Is(err, persistence.ErrLotHasStays):
			return ErrHasStays
		case errors.Is(err, persistence.ErrLotHasSublots):
			return ErrHasSublots
		default:
			return err
		}
	}
	return nil
}

// validateCustomFields checks the bag against the organization template.
// Without a template, a non-empty bag is rejected; there is nothing to
// validate the keys against.
func (s *service) validateCustomFields(ctx context.Context, fields map[string]any) error {
	template, err := s.repo.ActiveTemplate(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrTemplateNotFound) {
			if len(fields) > 0 {
				return &ValidationError{Fields: FieldErrors{"customFields": []string{"no custom field template is defined"}}}
			}
			return nil
		}
		return err
	}

	if err := s.validator.Validate(ctx, template, fields); err != nil {
		return &ValidationError{Fields: FieldErrors{"customFields": []string{err.Error()}}}
	}
	return nil
}

func mapLot(record persistence.Lot) Lot {
	return Lot{
		ID:             record.LotID,
		Identification: record.Identification,
		InitialCount:   record.InitialCount,
		FinalCount:     record.FinalCount,
		Regime:         record.Regime,
		IberianPct:     record.IberianPct,
		Status:         record.Status,
		ParentLotID:    record.ParentLotID,
		PieceType:      record.PieceType,
		CustomFields:   record.CustomFields,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func (f FieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = []string{message}
		return
	}
	f[field] = append(f[field], message)
}
