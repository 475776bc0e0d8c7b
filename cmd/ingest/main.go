package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/confingest/cmd/ingest/commands"
	"github.com/timmy/confingest/internal/logger"
)

// Version information (set via ldflags during build)
var Version = "dev"

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "confingest-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version); err != nil {
		appLogger.WithError(err).Error("Command failed")
		stop()
		os.Exit(1)
	}
}
