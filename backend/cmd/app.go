package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/Asmit356/anant-signaling/backend/registry"
	"github.com/Asmit356/anant-signaling/backend/router"
	"github.com/Asmit356/anant-signaling/backend/server"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		listenAddr = fs.StringP("listen-addr", "a", defaultListenAddr(), "listen address")
		corsOrigin = fs.StringP("cors-origin", "c", envOr("CORS_ORIGIN", "*"), "permitted cross origin")
		logLevel   = fs.StringP("log-level", "l", envOr("LOG_LEVEL", "debug"), "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	rooms := registry.New()
	rt := router.New(router.Config{
		Logger: &logger,
		Rooms:  rooms,
	})
	srv := server.NewServer(server.Config{
		Logger:     &logger,
		Signaling:  rt,
		ListenAddr: *listenAddr,
		CORSOrigin: *corsOrigin,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}

func defaultListenAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return ":3000"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
