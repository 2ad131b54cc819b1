package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/kombipay/internal/mockapi"
	"github.com/aussiebroadwan/kombipay/pkg/slogx"
)

// MockApplication serves the mock backend over HTTP.
type MockApplication struct {
	cfg    MockConfig
	logger *slog.Logger

	api    *mockapi.Server
	server *http.Server
}

func NewMock(cfg MockConfig) (*MockApplication, error) {
	app := &MockApplication{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "kombipay-mock",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	mcfg := mockapi.DefaultConfig()
	mcfg.AccessTTL = cfg.AccessTTL
	if cfg.Secret != "" {
		mcfg.Secret = []byte(cfg.Secret)
	}

	api, err := mockapi.New(mcfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mock backend: %w", err)
	}
	app.api = api

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// Run starts the server and blocks until shutdown is requested
func (app *MockApplication) Run() error {
	app.logger.Info("mock backend starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (app *MockApplication) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		return app.server.Close()
	}

	app.logger.Info("mock backend stopped")
	return nil
}
