package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const LotFieldTemplatesTable = "lot_field_templates"

// FieldType enumerates the supported custom field types.
type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
	FieldTypeEnum   FieldType = "enum"
)

// FieldDefinition describes one custom field in the organization template.
type FieldDefinition struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
}

// TemplateRecord is the organization's custom field template. The table holds
// a single row, enforced by a unique index over a constant expression.
type TemplateRecord struct {
	TemplateID uuid.UUID         `json:"templateId"`
	Fields     []FieldDefinition `json:"fields"`
	Version    int               `json:"version"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// ErrTemplateNotFound indicates no template has been defined yet.
var ErrTemplateNotFound = errors.New("lot field template not found")

// TemplateStore exposes persistence helpers for the lot_field_templates table.
type TemplateStore struct {
	pool *pgxpool.Pool
}

// NewTemplateStore returns a store bound to the shared pool.
func NewTemplateStore(pool *pgxpool.Pool) (*TemplateStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TemplateStore{pool: pool}, nil
}

const templateColumns = `template_id, fields, version, updated_at`

// GetActiveTemplate returns the single template row.
func (s *TemplateStore) GetActiveTemplate(ctx context.Context) (TemplateRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s`, templateColumns, LotFieldTemplatesTable))
	rec, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TemplateRecord{}, ErrTemplateNotFound
		}
		return TemplateRecord{}, err
	}
	return rec, nil
}

// PutTemplate replaces the template fields, bumping the version when a row
// already exists. The singleton index turns concurrent first inserts into an
// upsert on the existing row.
func (s *TemplateStore) PutTemplate(ctx context.Context, fields []FieldDefinition) (TemplateRecord, error) {
	if fields == nil {
		fields = []FieldDefinition{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return TemplateRecord{}, fmt.Errorf("encode template fields: %w", err)
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (template_id, fields)
        VALUES ($1, $2)
        ON CONFLICT ((TRUE)) DO UPDATE
        SET fields = EXCLUDED.fields,
            version = %s.version + 1,
            updated_at = NOW()
        RETURNING %s
    `, LotFieldTemplatesTable, LotFieldTemplatesTable, templateColumns), uuid.New(), encoded)

	rec, err := scanTemplate(row)
	if err != nil {
		return TemplateRecord{}, fmt.Errorf("put template: %w", err)
	}
	return rec, nil
}

func scanTemplate(row pgx.Row) (TemplateRecord, error) {
	var (
		rec    TemplateRecord
		fields []byte
	)
	err := row.Scan(&rec.TemplateID, &fields, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		return TemplateRecord{}, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return TemplateRecord{}, fmt.Errorf("decode template fields: %w", err)
	}
	return rec, nil
}
