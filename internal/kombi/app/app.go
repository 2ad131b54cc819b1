// Package app wires configuration, logging, the session store and the
// session layer together for the command line front-ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
	"github.com/aussiebroadwan/kombipay/pkg/kombiapi"
	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/aussiebroadwan/kombipay/pkg/session/store/memory"
	"github.com/aussiebroadwan/kombipay/pkg/session/store/redis"
	"github.com/aussiebroadwan/kombipay/pkg/session/store/sqlite"
	"github.com/aussiebroadwan/kombipay/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the session layer and everything it depends on.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store      session.Store
	httpClient *http.Client

	Auth     *authsdk.Client
	Session  *session.Manager
	Pipeline *session.Pipeline
	API      *kombiapi.Client
}

// Option adjusts an Application before it is wired.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	observers []session.Observer
	authOpts  []authsdk.Option
	store     session.Store
}

// WithObserver subscribes o to session events.
func WithObserver(o session.Observer) Option {
	return func(opts *options) { opts.observers = append(opts.observers, o) }
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// WithStore uses store instead of the configured one. Close still closes it.
func WithStore(store session.Store) Option {
	return func(opts *options) { opts.store = store }
}

// WithAuthOptions passes extra options to the auth client.
func WithAuthOptions(o ...authsdk.Option) Option {
	return func(opts *options) { opts.authOpts = append(opts.authOpts, o...) }
}

// New creates the application and hydrates the stored session.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{cfg: cfg, logger: o.logger}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "kombipay",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}

	app.store = o.store
	if app.store == nil {
		if err := app.initStore(ctx); err != nil {
			return nil, err
		}
	}
	app.initSession(o)

	if err := app.Session.Hydrate(ctx); err != nil {
		_ = app.store.Close()
		return nil, fmt.Errorf("failed to hydrate session: %w", err)
	}
	app.logger.Debug("session hydrated", "state", app.Session.State().String())

	return app, nil
}

// Close releases the session store.
func (app *Application) Close() error {
	return app.store.Close()
}

func (app *Application) Logger() *slog.Logger { return app.logger }

func (app *Application) Config() Config { return app.cfg }

// initStore opens the configured session store
func (app *Application) initStore(ctx context.Context) error {
	switch app.cfg.Store {
	case StoreMemory:
		app.store = memory.New()
	case StoreRedis:
		store, err := redis.Open(ctx, app.cfg.RedisAddr, app.cfg.RedisKey)
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}
		app.store = store
	default:
		store, err := sqlite.Open("file:" + app.cfg.DatabaseFile)
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}
		app.store = store
	}
	return nil
}

// initSession wires the auth client, manager, pipeline and API client
func (app *Application) initSession(o options) {
	app.httpClient = &http.Client{
		Timeout:   app.cfg.HTTPTimeout,
		Transport: slogx.NewTransport(nil, app.logger),
	}

	authOpts := append([]authsdk.Option{
		authsdk.WithHTTPClient(app.httpClient),
		authsdk.WithLogger(app.logger),
	}, o.authOpts...)
	app.Auth = authsdk.NewClient(app.cfg.APIURL, authOpts...)

	mgrOpts := []session.ManagerOption{session.WithLogger(app.logger)}
	for _, obs := range o.observers {
		mgrOpts = append(mgrOpts, session.WithObserver(obs))
	}
	app.Session = session.NewManager(app.Auth, app.store, mgrOpts...)

	app.Pipeline = session.NewPipeline(app.Session, app.Auth.Refresh, app.httpClient,
		session.WithPipelineLogger(app.logger),
		session.WithRefreshTimeout(app.cfg.RefreshTimeout),
		session.WithProactiveRefresh(app.cfg.RefreshSkew),
	)
	app.API = kombiapi.New(app.cfg.APIURL, app.Pipeline)
}
