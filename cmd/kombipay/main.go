package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/aussiebroadwan/kombipay/internal/kombi/app"
	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/samber/oops"
)

// openApp loads the configuration and builds the application.
func openApp(ctx context.Context, obs session.Observer) (*app.Application, func() error, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, oops.In("cli").Wrapf(err, "loading configuration")
	}

	a, err := app.New(ctx, cfg, app.WithObserver(obs))
	if err != nil {
		return nil, nil, oops.In("cli").Wrapf(err, "starting kombipay")
	}
	return a, a.Close, nil
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancelOnSignal()

	if err := rootCmd(openApp).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
