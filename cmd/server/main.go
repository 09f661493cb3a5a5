package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/echolabs/echo-server/internal/app"
	"github.com/echolabs/echo-server/internal/config"
	"github.com/echolabs/echo-server/internal/log"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")

	var overrides config.Config
	flag.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	bootLogger := log.New("info")
	cfg, cfgPath, err := config.Load(bootLogger, configPath)
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}

	// Flags beat file and env values.
	if overrides.Addr != "" {
		cfg.Addr = overrides.Addr
	}
	if overrides.DatabasePath != "" {
		cfg.DatabasePath = overrides.DatabasePath
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", cfgPath).Str("addr", cfg.Addr).Msg("starting echo server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
