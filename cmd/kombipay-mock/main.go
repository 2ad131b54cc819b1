package main

import (
	"log"

	"github.com/aussiebroadwan/kombipay/internal/kombi/app"
)

func main() {
	cfg := app.LoadMockConfig()

	application, err := app.NewMock(cfg)
	if err != nil {
		log.Fatalf("failed to initialize mock backend: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("mock backend error: %v", err)
	}
}
