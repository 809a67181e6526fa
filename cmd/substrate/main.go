// cmd/substrate is a minimal host application demonstrating how a
// service wires internal/bootstrap together: load config, build a task
// registry (no executors are registered here), construct the service,
// serve /metrics, start the substrate, and shut down on SIGINT/SIGTERM.
// It attaches no event consumers or task queues of its own.
//
// Grounded on auth-service/api/cmd/main.go's Run()/signal-channel shape;
// adapted for a long-lived broker consumer loop instead of an HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/bootstrap"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/config"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/logger"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/metrics"
	"github.com/NikitaBolshakov/rabbitmq-event-driven/internal/taskrunner"
)

// runner is the minimal surface run() needs from a *bootstrap.Service, so
// it can be unit-tested with a fake.
type runner interface {
	Start(ctx context.Context) error
	Stop() error
}

func run(svc runner, sigCh <-chan os.Signal, lg zerolog.Logger) int {
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		errCh <- svc.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		lg.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			lg.Error().Err(err).Msg("substrate crashed")
			return 1
		}
		return 0
	}

	cancel()

	stopped := make(chan error, 1)
	go func() { stopped <- svc.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			lg.Error().Err(err).Msg("shutdown error")
		}
	case <-time.After(15 * time.Second):
		lg.Warn().Msg("shutdown timed out")
	}
	lg.Info().Msg("shutdown complete")
	return 0
}

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.ServiceName)

	registry := taskrunner.NewRegistry()
	// Host applications register their task executors here, e.g.:
	// registry.Register("send_welcome_email", sendWelcomeEmail)

	svc, err := bootstrap.New(cfg, registry, zlog.Logger)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("bootstrap failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	os.Exit(run(svc, sigCh, zlog.Logger))
}
