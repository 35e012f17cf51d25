// Package internal wires the event service, the gateway and the background
// jobs into a cartridge application.
package internal

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"emarsync/internal/config"
	"emarsync/internal/contacts"
	"emarsync/internal/database"
	"emarsync/internal/emarsys"
	"emarsync/internal/events"
	"emarsync/internal/jobs"
	"emarsync/internal/providers"
	"emarsync/internal/schema"
)

type options struct {
	types     *schema.Types
	providers *providers.Registry
	gateway   emarsys.Gateway
}

// Option customizes how the components are built.
type Option func(*options)

// WithTypes supplies the host application's model types referenced by the
// event declarations.
func WithTypes(types *schema.Types) Option {
	return func(o *options) {
		o.types = types
	}
}

// WithProviders supplies the host application's context providers.
func WithProviders(registry *providers.Registry) Option {
	return func(o *options) {
		o.providers = registry
	}
}

// WithGateway replaces the Emarsys API client.
func WithGateway(gateway emarsys.Gateway) Option {
	return func(o *options) {
		o.gateway = gateway
	}
}

// Components are the pieces shared by the server and the CLI.
type Components struct {
	Config       *config.Config
	Logger       *slog.Logger
	DBManager    *database.DBManager
	Gateway      emarsys.Gateway
	Declarations *schema.Declarations
	Document     *schema.Document
	Types        *schema.Types
	Service      *events.Service
	Contacts     *contacts.Syncer
	Lists        *contacts.Lists
}

// NewComponents connects the database, compiles the declarations and builds
// the services.
func NewComponents(cfg *config.Config, opts ...Option) (*Components, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.types == nil {
		o.types = schema.NewTypes()
	}
	if o.providers == nil {
		o.providers = providers.NewRegistry()
	}

	// Create logger
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	doc, err := schema.ReadFile(cfg.DeclarationsPath)
	if err != nil {
		return nil, err
	}
	for _, message := range doc.Validate(o.types) {
		if message.Level == schema.LevelWarning {
			logger.Warn("Declaration warning", slog.String("message", message.Text))
		}
	}
	decl, err := doc.Compile(o.types)
	if err != nil {
		return nil, err
	}

	if err := registerGeneralProvider(o.providers, cfg.GeneralProvider); err != nil {
		return nil, err
	}

	gateway := o.gateway
	if gateway == nil {
		retry := emarsys.DefaultRetryPolicy()
		retry.MaxAttempts = cfg.GatewayMaxAttempts
		gateway = emarsys.NewClient(emarsys.Options{
			Account: cfg.Account,
			Secret:  cfg.Password,
			BaseURI: cfg.BaseURI,
			Timeout: cfg.GetGatewayTimeout(),
			Retry:   retry,
			Logger:  logger,
		})
	}

	service, err := events.NewService(events.Options{
		DB:           dbManager.GetConnection(),
		Logger:       logger,
		Gateway:      gateway,
		Declarations: decl,
		Types:        o.types,
		Providers:    o.providers,
	})
	if err != nil {
		return nil, err
	}

	return &Components{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		Gateway:      gateway,
		Declarations: decl,
		Document:     doc,
		Types:        o.types,
		Service:      service,
		Contacts:     contacts.NewSyncer(gateway, decl, logger),
		Lists:        contacts.NewLists(gateway, decl.Lists),
	}, nil
}

// CheckConfiguration reports problems with the remote credentials and the
// declarations file without compiling them.
func CheckConfiguration(cfg *config.Config, opts ...Option) ([]schema.Message, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	messages := schema.CheckCredentials(cfg.Account, cfg.Password, cfg.BaseURI)

	doc, err := schema.ReadFile(cfg.DeclarationsPath)
	if err != nil {
		return messages, err
	}
	return append(messages, doc.Validate(o.types)...), nil
}

func registerGeneralProvider(registry *providers.Registry, name string) error {
	switch name {
	case config.GeneralProviderNull:
		return registry.RegisterGeneral(providers.Null)
	case config.GeneralProviderPassthrough:
		return registry.RegisterGeneral(providers.Passthrough)
	default:
		return nil
	}
}

// Application wraps cartridge.Application with the event sync components
type Application struct {
	*cartridge.Application
	DBManager  *database.DBManager // DB manager with the event store migrations
	Components *Components
	Scheduler  *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp(opts ...Option) (*Application, error) {
	return NewAppWithConfig(config.GetConfig(), opts...)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config, opts ...Option) (*Application, error) {
	components, err := NewComponents(cfg, opts...)
	if err != nil {
		return nil, err
	}

	scheduler := jobs.NewScheduler(cfg, components.DBManager, components.Service, components.Logger)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            components.Logger,
		DBManager:         components.DBManager,
		RouteMountFunc:    MountRoutes(cfg, components.Service),
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   components.DBManager,
		Components:  components,
		Scheduler:   scheduler,
	}, nil
}
