package di

import (
	"reflect"

	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/commands"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/dispatcher"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/eventlog"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/hub"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/presence"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/router"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/transport/ws"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/auth"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/push"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/storage"
)

// Options configure the DI container.
type Options struct {
	Config    config.Config
	Storage   storage.Providers
	Logger    logger.Logger
	Directory membership.Directory
	Auth      auth.Validator
	Revoker   auth.Revoker
	Sender    push.Sender
}

// Container wires presence, hub, log, dispatcher, router, commands, and the
// WebSocket transport into one engine instance.
type Container struct {
	Config     config.Config
	Storage    storage.Providers
	Presence   *presence.Registry
	Hub        *hub.Hub
	EventLog   *eventlog.Service
	Dispatcher *dispatcher.Service
	Router     *router.Service
	Commands   *commands.Catalog
	Transport  *ws.Server
}

func isZeroConfig(cfg config.Config) bool {
	return reflect.ValueOf(cfg).IsZero()
}

// New constructs the container using the supplied options.
func New(opts Options) (*Container, error) {
	cfg := opts.Config
	if isZeroConfig(cfg) {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	providers := opts.Storage
	if providers.Events == nil {
		providers = storage.NewMemoryProviders()
	}

	lgr := opts.Logger
	if lgr == nil {
		lgr = &logger.Nop{}
	}

	sender := opts.Sender
	if sender == nil {
		sender = &push.Nop{}
	}

	registry := presence.New(cfg.Presence, lgr)

	connHub, err := hub.New(hub.Dependencies{
		Directory: opts.Directory,
		Presence:  registry,
		Logger:    lgr,
		Config:    cfg.Hub,
	})
	if err != nil {
		return nil, err
	}

	eventLog, err := eventlog.New(eventlog.Dependencies{
		Events: providers.Events,
		Acks:   providers.Acks,
		Logger: lgr,
		Config: cfg.Log,
	})
	if err != nil {
		return nil, err
	}

	dispatcherSvc, err := dispatcher.New(dispatcher.Dependencies{
		Jobs:        providers.Jobs,
		Events:      providers.Events,
		DeadLetters: providers.DeadLetters,
		Sender:      sender,
		Directory:   opts.Directory,
		Logger:      lgr,
		Config:      cfg.Dispatcher,
	})
	if err != nil {
		return nil, err
	}

	routerSvc, err := router.New(router.Dependencies{
		Log:         eventLog,
		Directory:   opts.Directory,
		Broadcaster: connHub,
		Queue:       dispatcherSvc,
		Presence:    registry,
		Logger:      lgr,
	})
	if err != nil {
		return nil, err
	}

	catalog, err := commands.NewCatalog(commands.Dependencies{
		Publisher: routerSvc,
		Acks:      eventLog,
		Retention: eventLog,
		Sessions:  connHub,
		Revoker:   opts.Revoker,
		Logger:    lgr,
	})
	if err != nil {
		return nil, err
	}

	var transport *ws.Server
	if opts.Auth != nil {
		transport, err = ws.NewServer(ws.Dependencies{
			Hub:    connHub,
			Log:    eventLog,
			Auth:   opts.Auth,
			Logger: lgr,
			Config: cfg.Hub,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Container{
		Config:     cfg,
		Storage:    providers,
		Presence:   registry,
		Hub:        connHub,
		EventLog:   eventLog,
		Dispatcher: dispatcherSvc,
		Router:     routerSvc,
		Commands:   catalog,
		Transport:  transport,
	}, nil
}
