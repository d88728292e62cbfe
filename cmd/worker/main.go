package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"toonify/internal/bootstrap"
	"toonify/internal/dispatcher"
	"toonify/internal/infra"
	"toonify/internal/pipeline"
)

const reapBatch = 50

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer container.Close()

	invoker, err := container.Invoker(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure invoker")
	}

	dispatchLogger := infra.Component(logger, "dispatcher")
	d := dispatcher.New(container.Jobs, invoker, dispatcher.Options{
		Interval:      cfg.DispatchInterval,
		InvokeTimeout: cfg.ProcessTimeout,
		Logger:        &dispatchLogger,
		OnResult: func(jobID string, res pipeline.Result, err error) {
			if err != nil {
				dispatchLogger.Warn().Err(err).Str("job_id", jobID).Msg("worker: job failed")
				return
			}
			dispatchLogger.Info().Str("job_id", jobID).Str("image_url", res.ImageURL).Msg("worker: job complete")
		},
	})

	logger.Info().
		Str("mode", cfg.DispatchMode).
		Dur("interval", cfg.DispatchInterval).
		Dur("stale_after", cfg.StaleProcessing).
		Msg("worker: started")

	handle := d.Start(ctx)
	go reapLoop(ctx, container, cfg.StaleProcessing, logger)

	<-ctx.Done()
	handle.Stop()
	<-handle.Done()
	logger.Info().Msg("worker: stopped")
}

// reapLoop moves jobs stuck in processing to error so their owners can retry.
func reapLoop(ctx context.Context, c *bootstrap.Container, maxAge time.Duration, logger infra.Logger) {
	if maxAge <= 0 {
		return
	}
	interval := maxAge / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Jobs.ReapStale(ctx, maxAge, reapBatch)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Msg("worker: reap stale jobs")
				}
				continue
			}
			if n > 0 {
				logger.Warn().Int("count", n).Msg("worker: stale processing jobs marked as error")
			}
		}
	}
}
