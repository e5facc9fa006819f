package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/immxrtalbeast/axenix_mesh/internal/api/http"
	"github.com/immxrtalbeast/axenix_mesh/internal/config"
	"github.com/immxrtalbeast/axenix_mesh/internal/metrics"
	"github.com/immxrtalbeast/axenix_mesh/internal/repository"
	"github.com/immxrtalbeast/axenix_mesh/internal/service"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/sl"
	"github.com/immxrtalbeast/axenix_mesh/lib/logger/slogpretty"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	rooms := repository.NewInMemoryRoomRegistry()
	relayMetrics := metrics.NewRelay(rooms.Len)

	relayService := service.NewRelayService(rooms, relayMetrics, log, cfg.Relay.MaxIDLength)

	relayController := httpapi.NewRelayController(relayService, cfg.Relay, relayMetrics, log)
	roomController := httpapi.NewRoomController(relayService)
	metricsHandler := promhttp.HandlerFor(relayMetrics.Registry(), promhttp.HandlerOpts{})

	router := httpapi.SetupRouter(relayController, roomController, metricsHandler, cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("starting relay", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
