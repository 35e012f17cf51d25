// Package contacts synchronizes application contacts with the remote
// contact store.
package contacts

import (
	"context"
	"fmt"
	"strconv"

	"emarsync/internal/emarsys"
	"emarsync/internal/schema"
)

// UnknownFieldError is returned for a contact field missing from the field declarations.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown contact field: '%s'", e.Field)
}

// FieldMap translates human field names into remote field ids.
type FieldMap struct {
	fields  map[string]schema.FieldSpec
	choices map[string]map[string]int64
}

func NewFieldMap(fields map[string]schema.FieldSpec, choices map[string]map[string]int64) *FieldMap {
	return &FieldMap{fields: fields, choices: choices}
}

// Transform maps every field name of contact to its remote id. Choice values
// are replaced by their choice ids: unknown multichoice values are dropped
// and an unknown singlechoice value becomes nil.
func (m *FieldMap) Transform(contact map[string]any) (emarsys.Contact, error) {
	out := make(emarsys.Contact, len(contact))
	for name, value := range contact {
		field, ok := m.fields[name]
		if !ok {
			return nil, &UnknownFieldError{Field: name}
		}
		out[strconv.FormatInt(field.ID, 10)] = m.transformValue(name, field.Type, value)
	}
	return out, nil
}

func (m *FieldMap) transformValue(name, fieldType string, value any) any {
	switch fieldType {
	case "multichoice":
		choices, ok := m.choices[name]
		if !ok {
			return value
		}
		ids := []int64{}
		for _, v := range asStrings(value) {
			if id, ok := choices[v]; ok {
				ids = append(ids, id)
			}
		}
		return ids
	case "singlechoice":
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if id, ok := m.choices[name][s]; ok {
			return id
		}
		return nil
	default:
		return value
	}
}

func asStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

// IDs returns the remote ids of the named fields.
func (m *FieldMap) IDs(names []string) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(names))
	for _, name := range names {
		field, ok := m.fields[name]
		if !ok {
			return nil, &UnknownFieldError{Field: name}
		}
		ids[strconv.FormatInt(field.ID, 10)] = struct{}{}
	}
	return ids, nil
}

// FieldSource lists remote fields and their choices.
type FieldSource interface {
	ListFields(ctx context.Context) ([]emarsys.Field, error)
	ListFieldChoices(ctx context.Context, fieldID int64) ([]emarsys.Choice, error)
}

// FetchFields returns the remote fields in declaration form.
func FetchFields(ctx context.Context, source FieldSource) (map[string]schema.FieldSpec, error) {
	fields, err := source.ListFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	result := make(map[string]schema.FieldSpec, len(fields))
	for _, f := range fields {
		result[f.Name] = schema.FieldSpec{ID: f.ID, Type: f.ApplicationType}
	}
	return result, nil
}

// FetchFieldChoices returns the choices of every single- and multichoice field.
func FetchFieldChoices(ctx context.Context, source FieldSource) (map[string]map[string]int64, error) {
	fields, err := source.ListFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	result := make(map[string]map[string]int64)
	for _, f := range fields {
		if f.ApplicationType != "multichoice" && f.ApplicationType != "singlechoice" {
			continue
		}
		choices, err := source.ListFieldChoices(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list choices of field '%s': %w", f.Name, err)
		}
		result[f.Name] = make(map[string]int64, len(choices))
		for _, c := range choices {
			result[f.Name][c.Choice] = c.ID
		}
	}
	return result, nil
}
