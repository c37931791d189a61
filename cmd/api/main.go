package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-converter/internal/api"
	"github.com/dvloznov/statement-converter/internal/config"
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/jobs/inmemory"
	"github.com/dvloznov/statement-converter/internal/logger"
	"github.com/dvloznov/statement-converter/internal/objstore"
	"github.com/dvloznov/statement-converter/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Flags override the environment
	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	workers := flag.Int("workers", cfg.WorkerCount, "Number of conversion job workers (or set WORKER_COUNT env)")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)

	// Initialize job infrastructure
	store := objstore.NewURIStore()
	defer store.Close()

	deps := pipeline.Dependencies{
		Store:    store,
		Registry: convert.NewRegistry(cfg.CSV),
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, *workers, jobStore, log)

	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancelWorker()

	log.Info().Int("workers", *workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, pipeline.NewJobHandler(deps)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	server := &http.Server{
		Addr: ":" + *port,
		Handler: api.NewRouter(api.Options{
			Log:        log,
			CSVOptions: cfg.CSV,
			Publisher:  jobQueue,
			JobStore:   jobStore,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let running conversions finish before workers stop
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
