package events

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"emarsync/internal/contacts"
	"emarsync/internal/emarsys"
	"emarsync/internal/providers"
	"emarsync/internal/schema"
)

// Gateway is the part of the remote API the event service needs.
type Gateway interface {
	ListEvents(ctx context.Context) (map[string]int64, error)
	TriggerEvent(ctx context.Context, eventID int64, email string, data map[string]any) error
	CreateContact(ctx context.Context, contact emarsys.Contact) error
}

// Options configures a Service. Every field is required except Logger.
type Options struct {
	DB           *gorm.DB
	Logger       *slog.Logger
	Gateway      Gateway
	Declarations *schema.Declarations
	Types        *schema.Types
	Providers    *providers.Registry
}

// Service synchronizes and triggers the declared events.
type Service struct {
	db        *gorm.DB
	logger    *slog.Logger
	gateway   Gateway
	decl      *schema.Declarations
	types     *schema.Types
	providers *providers.Registry
	fields    *contacts.FieldMap
}

func NewService(opts Options) (*Service, error) {
	switch {
	case opts.DB == nil:
		return nil, errors.New("events: database is required")
	case opts.Gateway == nil:
		return nil, errors.New("events: gateway is required")
	case opts.Declarations == nil:
		return nil, errors.New("events: declarations are required")
	case opts.Providers == nil:
		return nil, errors.New("events: provider registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	types := opts.Types
	if types == nil {
		types = schema.NewTypes()
	}

	return &Service{
		db:        opts.DB,
		logger:    logger,
		gateway:   opts.Gateway,
		decl:      opts.Declarations,
		types:     types,
		providers: opts.Providers,
		fields:    contacts.NewFieldMap(opts.Declarations.Fields, opts.Declarations.FieldChoices),
	}, nil
}

// Declarations returns the compiled declarations the service checks against.
func (s *Service) Declarations() *schema.Declarations {
	return s.decl
}

// Types returns the model type registry used to encode and resolve references.
func (s *Service) Types() *schema.Types {
	return s.types
}

// Events returns the stored events ordered by name.
func (s *Service) Events(ctx context.Context) ([]Event, error) {
	return ListEvents(ctx, s.db)
}
