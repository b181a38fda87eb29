package main

import (
	"log/slog"
	"os"

	"calculator-api/internal/app"
	"calculator-api/internal/logger"
)

func main() {
	logger.Setup(os.Stdout, slog.LevelInfo, false)

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}
