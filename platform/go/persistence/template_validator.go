package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TemplateValidator validates lot custom field payloads against the
// organization template, compiled to a JSON Schema via
// santhosh-tekuri/jsonschema. Compiled schemas are cached per template
// version.
type TemplateValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewTemplateValidator returns a validator with an empty schema cache.
func NewTemplateValidator() *TemplateValidator {
	return &TemplateValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate ensures the custom field values match the template. A nil values
// map is treated as empty, which only passes when the template has no
// required fields.
func (v *TemplateValidator) Validate(ctx context.Context, template TemplateRecord, values map[string]any) error {
	compiled, err := v.getOrCompile(template)
	if err != nil {
		return err
	}

	if values == nil {
		values = map[string]any{}
	}

	// Round-trip through JSON so numeric values validate as json numbers
	// regardless of their Go type.
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode custom fields: %w", err)
	}
	var document any
	if err := json.Unmarshal(encoded, &document); err != nil {
		return fmt.Errorf("decode custom fields: %w", err)
	}

	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("custom field validation: %w", err)
	}
	return nil
}

func (v *TemplateValidator) getOrCompile(template TemplateRecord) (*jsonschema.Schema, error) {
	key := v.cacheKey(template)

	v.mu.RLock()
	compiled, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// another goroutine may have populated the cache while we were waiting
	if compiled, ok = v.cache[key]; ok {
		return compiled, nil
	}

	schema, err := compileTemplateSchema(template)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode template schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("register template schema %s: %w", key, err)
	}

	newCompiled, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile template schema %s: %w", key, err)
	}

	v.cache[key] = newCompiled
	return newCompiled, nil
}

// compileTemplateSchema lowers the field definitions into a JSON Schema
// document. Unknown field names are rejected via additionalProperties.
func compileTemplateSchema(template TemplateRecord) (map[string]any, error) {
	properties := make(map[string]any, len(template.Fields))
	required := make([]string, 0)

	for _, field := range template.Fields {
		if field.Name == "" {
			return nil, fmt.Errorf("template field without a name")
		}

		var prop map[string]any
		switch field.Type {
		case FieldTypeText:
			prop = map[string]any{"type": "string"}
		case FieldTypeNumber:
			prop = map[string]any{"type": "number"}
		case FieldTypeDate:
			prop = map[string]any{"type": "string", "format": "date"}
		case FieldTypeEnum:
			if len(field.Options) == 0 {
				return nil, fmt.Errorf("enum field %q has no options", field.Name)
			}
			options := make([]any, 0, len(field.Options))
			for _, opt := range field.Options {
				options = append(options, opt)
			}
			prop = map[string]any{"enum": options}
		default:
			return nil, fmt.Errorf("field %q has unsupported type %q", field.Name, field.Type)
		}

		properties[field.Name] = prop
		if field.Required {
			required = append(required, field.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

func (v *TemplateValidator) cacheKey(template TemplateRecord) string {
	return fmt.Sprintf("memory://templates/%s/v%d", template.TemplateID.String(), template.Version)
}
