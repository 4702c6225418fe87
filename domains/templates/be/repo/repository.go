package repo

import (
	"context"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// Repository exposes persistence operations required by the templates service.
type Repository interface {
	Get(ctx context.Context) (persistence.TemplateRecord, error)
	Put(ctx context.Context, fields []persistence.FieldDefinition) (persistence.TemplateRecord, error)
}

type postgresRepository struct {
	store *persistence.TemplateStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.TemplateStore) Repository {
	if store == nil {
		panic("template store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Get(ctx context.Context) (persistence.TemplateRecord, error) {
	return r.store.GetActiveTemplate(ctx)
}

func (r *postgresRepository) Put(ctx context.Context, fields []persistence.FieldDefinition) (persistence.TemplateRecord, error) {
	return r.store.PutTemplate(ctx, fields)
}
