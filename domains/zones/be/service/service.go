package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/dehesalabs/trazar/domains/zones/be/repo"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
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
	ErrNotFound = errors.New("zone not found")
	ErrConflict = errors.New("zone conflict")
	ErrInUse    = errors.New("zone has stay history")
)

// Zone represents a physical location managed by the domain service.
type Zone struct {
	ID           uuid.UUID
	Name         string
	Stage        stage.Stage
	IsActive     bool
	TargetRanges map[string]persistence.MetricRange
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateInput defines the payload required to create a zone. Stage is fixed
// at creation and never changes afterwards.
type CreateInput struct {
	Name         string
	Stage        string
	TargetRanges map[string]persistence.MetricRange
}

// UpdateInput defines the fields that can be modified for an existing zone.
type UpdateInput struct {
	Name         *string
	IsActive     *bool
	TargetRanges map[string]persistence.MetricRange
}

// ListFilter narrows List results.
type ListFilter struct {
	Stage      *string
	OnlyActive bool
}

// Service exposes the zones domain operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Zone, error)
	Get(ctx context.Context, id uuid.UUID) (Zone, error)
	List(ctx context.Context, filter ListFilter) ([]Zone, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Zone, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo domainrepo.Repository
}

// New builds a zones Service backed by the provided repository.
func New(repo domainrepo.Repository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, input CreateInput) (Zone, error) {
	errs := FieldErrors{}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		errs.add("name", "name is required")
	}

	parsedStage, err := stage.ParsePhysical(input.Stage)
	if err != nil {
		errs.add("stage", err.Error())
	}

	validateRanges(input.TargetRanges, errs)

	if len(errs) > 0 {
		return Zone{}, &ValidationError{Fields: errs}
	}

	record, err := s.repo.Create(ctx, persistence.CreateZoneParams{
		ZoneID:       uuid.New(),
		Name:         name,
		Stage:        parsedStage,
		TargetRanges: input.TargetRanges,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrZoneConflict) {
			return Zone{}, ErrConflict
		}
		return Zone{}, err
	}

	return mapZone(record), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Zone, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrZoneNotFound) {
			return Zone{}, ErrNotFound
		}
		return Zone{}, err
	}
	return mapZone(record), nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]Zone, error) {
	params := persistence.ListZonesParams{OnlyActive: filter.OnlyActive}
	if filter.Stage != nil {
		parsed, err := stage.ParsePhysical(*filter.Stage)
		if err != nil {
			return nil, &ValidationError{Fields: FieldErrors{"stage": []string{err.Error()}}}
		}
		params.Stage = &parsed
	}

	records, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, err
	}

	zones := make([]Zone, 0, len(records))
	for _, record := range records {
		zones = append(zones, mapZone(record))
	}
	return zones, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Zone, error) {
	errs := FieldErrors{}

	var name *string
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			errs.add("name", "name is required")
		} else {
			name = &trimmed
		}
	}

	validateRanges(input.TargetRanges, errs)

	if input.Name == nil && input.IsActive == nil && input.TargetRanges == nil {
		errs.add("body", "at least one field must be provided")
	}

	if len(errs) > 0 {
		return Zone{}, &ValidationError{Fields: errs}
	}

	record, err := s.repo.Update(ctx, id, persistence.UpdateZoneParams{
		Name:         name,
		IsActive:     input.IsActive,
		TargetRanges: input.TargetRanges,
	})
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrZoneNotFound):
			return Zone{}, ErrNotFound
		case errors.Is(err, persistence.ErrZoneConflict):
			return Zone{}, ErrConflict
		default:
			return Zone{}, err
		}
	}

	return mapZone(record), nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, persistence.ErrZoneNotFound):
			return ErrNotFound
		case errors.Is(err, persistence.ErrZoneHasStays):
			return ErrInUse
		default:
			return err
		}
	}
	return nil
}

func validateRanges(ranges map[string]persistence.MetricRange, errs FieldErrors) {
	for metric, band := range ranges {
		if strings.TrimSpace(metric) == "" {
			errs.add("targetRanges", "metric name is required")
			continue
		}
		if band.Min > band.Max {
			errs.add("targetRanges", "min must not exceed max for "+metric)
		}
	}
}

func mapZone(record persistence.Zone) Zone {
	return Zone{
		ID:           record.ZoneID,
		Name:         record.Name,
		Stage:        record.Stage,
		IsActive:     record.IsActive,
		TargetRanges: record.TargetRanges,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func (f FieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = []string{message}
		return
	}
	f[field] = append(f[field], message)
}
