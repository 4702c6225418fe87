package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/dehesalabs/trazar/domains/templates/be/repo"
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

// ErrNotFound indicates no template has been defined yet.
var ErrNotFound = errors.New("lot field template not found")

// Template is the organization's custom field template.
type Template struct {
	ID        uuid.UUID
	Fields    []persistence.FieldDefinition
	Version   int
	UpdatedAt time.Time
}

// Service exposes the lot field template operations. The template is a
// singleton per deployment; Put replaces it wholesale and bumps the version.
type Service interface {
	Get(ctx context.Context) (Template, error)
	Put(ctx context.Context, fields []persistence.FieldDefinition) (Template, error)
}

type service struct {
	repo domainrepo.Repository
}

// New builds a templates Service backed by the provided repository.
func New(repo domainrepo.Repository) Service {
	return &service{repo: repo}
}

func (s *service) Get(ctx context.Context) (Template, error) {
	record, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrTemplateNotFound) {
			return Template{}, ErrNotFound
		}
		return Template{}, err
	}
	return mapTemplate(record), nil
}

func (s *service) Put(ctx context.Context, fields []persistence.FieldDefinition) (Template, error) {
	if err := validateFields(fields); err != nil {
		return Template{}, err
	}

	record, err := s.repo.Put(ctx, fields)
	if err != nil {
		return Template{}, err
	}
	return mapTemplate(record), nil
}

func validateFields(fields []persistence.FieldDefinition) error {
	errs := FieldErrors{}
	seen := make(map[string]bool, len(fields))

	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			errs.add("fields", "field name is required")
			continue
		}
		if seen[name] {
			errs.add("fields", "duplicate field name "+name)
		}
		seen[name] = true

		switch field.Type {
		case persistence.FieldTypeText, persistence.FieldTypeNumber, persistence.FieldTypeDate:
		case persistence.FieldTypeEnum:
			if len(field.Options) == 0 {
				errs.add("fields", "enum field "+name+" needs at least one option")
			}
		default:
			errs.add("fields", "field "+name+" has unsupported type "+string(field.Type))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func mapTemplate(record persistence.TemplateRecord) Template {
	return Template{
		ID:        record.TemplateID,
		Fields:    record.Fields,
		Version:   record.Version,
		UpdatedAt: record.UpdatedAt,
	}
}

func (f FieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = []string{message}
		return
	}
	f[field] = append(f[field], message)
}
