package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/docuflow-ai/docuflow/internal/app"
	"github.com/docuflow-ai/docuflow/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer application.Close()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
