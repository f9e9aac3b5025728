package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/adminhttp"
	"github.com/dkeye/confrelay/internal/config"
	"github.com/dkeye/confrelay/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 2
	}

	srv := server.New(cfg)
	if err := srv.Listen(); err != nil {
		log.Error().Err(err).Msg("failed to bind listeners")
		return 1
	}

	admin := adminhttp.New(cfg, srv)
	go admin.Run(ctx)

	log.Info().Msg("confrelay server started")
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		return 2
	}

	log.Info().Msg("server exited gracefully")
	return 0
}
