// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/apodrating/internal/config"
	"github.com/briangreenhill/apodrating/internal/db"
	"github.com/briangreenhill/apodrating/internal/http/routes"
	"github.com/briangreenhill/apodrating/internal/proxy"
	"github.com/briangreenhill/apodrating/nasa"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = logger.Level(cfg.Level())
	logger.Info().Str("port", cfg.Port).Msg("starting app")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db error")
	}
	defer pool.Close()
	if err := db.ApplySchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("db schema error")
	}
	queries := db.New(pool)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Remote proxy
	client := nasa.New(
		nasa.WithBaseURL(cfg.NASA.Host),
		nasa.WithPath(cfg.NASA.Path),
		nasa.WithRateLimit(cfg.NASA.RateLimit),
	)
	px := proxy.Build(cfg.Proxy(), client, logger.With().Str("component", "proxy").Logger(), reg)
	defer px.Close()

	// Router / server
	s := routes.New(routes.ServerOptions{
		Q:        queries,
		Proxy:    px,
		APIKey:   cfg.NASA.APIKey,
		Logger:   logger,
		Gatherer: reg,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}
