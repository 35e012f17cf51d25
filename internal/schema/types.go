package schema

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm"
	gormschema "gorm.io/gorm/schema"
)

// ModelType is what the host application registers for every referenced
// type tag used in event declarations.
type ModelType interface {
	// Owns reports whether v is an instance of this type.
	Owns(v any) bool
	// PrimaryKey returns the key stored for v.
	PrimaryKey(ctx context.Context, v any) (uint, error)
	// Get loads one entity. It returns nil without error when none has the key.
	Get(ctx context.Context, id uint) (any, error)
	// GetMany loads the entities in the order of ids, skipping missing keys.
	GetMany(ctx context.Context, ids []uint) ([]any, error)
}

// Types maps type tags to registered model types.
type Types struct {
	mu    sync.RWMutex
	types map[string]ModelType
}

func NewTypes() *Types {
	return &Types{types: make(map[string]ModelType)}
}

// Register adds a model type under tag. Registering the same tag twice fails.
func (t *Types) Register(tag string, m ModelType) error {
	if tag == "" || tag == ScalarType {
		return &ConfigurationError{Message: fmt.Sprintf("invalid model type tag: '%s'", tag)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.types[tag]; exists {
		return &ConfigurationError{Message: fmt.Sprintf("model type '%s' registered twice", tag)}
	}
	t.types[tag] = m
	return nil
}

// Lookup returns the model type for tag.
func (t *Types) Lookup(tag string) (ModelType, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.types[tag]
	return m, ok
}

// GormModel is a ModelType backed by a gorm model struct T.
type GormModel[T any] struct {
	db      *gorm.DB
	pkField *gormschema.Field
}

// NewGormModel parses T with the connection's naming strategy. T must have a
// primary key.
func NewGormModel[T any](db *gorm.DB) (*GormModel[T], error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(T)); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	field := stmt.Schema.PrioritizedPrimaryField
	if field == nil {
		return nil, fmt.Errorf("model %s has no primary key", stmt.Schema.Name)
	}
	return &GormModel[T]{db: db, pkField: field}, nil
}

func (m *GormModel[T]) cast(v any) (*T, bool) {
	switch row := v.(type) {
	case *T:
		return row, row != nil
	case T:
		return &row, true
	default:
		return nil, false
	}
}

func (m *GormModel[T]) Owns(v any) bool {
	_, ok := m.cast(v)
	return ok
}

func (m *GormModel[T]) PrimaryKey(ctx context.Context, v any) (uint, error) {
	row, ok := m.cast(v)
	if !ok {
		return 0, fmt.Errorf("unexpected value of type %T", v)
	}

	value, zero := m.pkField.ValueOf(ctx, reflect.ValueOf(row).Elem())
	if zero {
		return 0, errors.New("entity has no primary key value")
	}

	key := reflect.ValueOf(value)
	switch key.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uint(key.Uint()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if key.Int() < 0 {
			return 0, fmt.Errorf("negative primary key %d", key.Int())
		}
		return uint(key.Int()), nil
	default:
		return 0, fmt.Errorf("unsupported primary key type %s", key.Type())
	}
}

func (m *GormModel[T]) Get(ctx context.Context, id uint) (any, error) {
	row := new(T)
	if err := m.db.WithContext(ctx).First(row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (m *GormModel[T]) GetMany(ctx context.Context, ids []uint) ([]any, error) {
	if len(ids) == 0 {
		return []any{}, nil
	}

	var rows []T
	if err := m.db.WithContext(ctx).Find(&rows, ids).Error; err != nil {
		return nil, err
	}

	byKey := make(map[uint]*T, len(rows))
	for i := range rows {
		key, err := m.PrimaryKey(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		byKey[key] = &rows[i]
	}

	result := make([]any, 0, len(ids))
	for _, id := range ids {
		if row, ok := byKey[id]; ok {
			result = append(result, row)
		}
	}
	return result, nil
}
