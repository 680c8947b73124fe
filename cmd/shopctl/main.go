package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "shopctl", Format: "console"})

	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "shopctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if err := newRootCommand(cfg, logg).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
