package main

import (
	"context"
	"os"

	"go.uber.org/fx"

	"seatreserve/pkg/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	app := fx.New(
		Module,
		fx.NopLogger,
	)

	if err := app.Start(context.Background()); err != nil {
		logger.GetDefault().Error("Failed to start application", "error", err)
		os.Exit(1)
	}

	logger.GetDefault().Info("Application started",
		"version", Version,
		"build_time", BuildTime,
		"commit", GitCommit,
	)

	<-app.Done()

	if err := app.Stop(context.Background()); err != nil {
		logger.GetDefault().Error("Forced shutdown", "error", err)
	}

	logger.GetDefault().Info("Server exited gracefully")
}
