package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"ordersight/config"
	"ordersight/internal/bootstrap"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	switch *mode {
	case "api":
		runAPI(cfg, log)
	case "worker":
		runWorker(cfg, log)
	case "all":
		go runWorker(cfg, log)
		runAPI(cfg, log)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func runAPI(cfg *config.Config, log zerolog.Logger) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize API")
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down API server")

		done := make(chan error, 1)
		go func() {
			done <- app.Shutdown()
		}()

		select {
		case err := <-done:
			if err != nil {
				log.Error().Err(err).Msg("error shutting down")
			} else {
				log.Info().Msg("API server shut down gracefully")
			}
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("API shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("starting API server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

func runWorker(cfg *config.Config, log zerolog.Logger) {
	w, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize worker")
	}
	defer cleanup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down worker")

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()

		select {
		case <-done:
			log.Info().Msg("worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	log.Info().Msg("starting worker")
	w.Start()
}
