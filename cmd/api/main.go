package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"toonify/internal/bootstrap"
	"toonify/internal/http/handlers"
	httpapi "toonify/internal/http/httpapi"
	"toonify/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx := context.Background()
	container, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer container.Close()

	processor, err := container.Processor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: configure processing pipeline")
	}
	checkout, confirmation := container.Payments(container.PaymentProvider(ctx))

	app := handlers.NewApp(cfg, &logger, handlers.Deps{
		Jobs:         container.Jobs,
		Processor:    processor,
		Checkout:     checkout,
		Confirmation: confirmation,
		Fetcher:      container.Fetcher,
	})
	router := httpapi.NewRouter(app, container.GeoIP.Lookup())
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("job_store", cfg.JobStore).Str("storage", cfg.StorageBackend).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown")
	}
	logger.Info().Msg("api: stopped")
}
