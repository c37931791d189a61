package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-converter/internal/config"
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/jobs"
	"github.com/dvloznov/statement-converter/internal/jobs/inmemory"
	"github.com/dvloznov/statement-converter/internal/logger"
	"github.com/dvloznov/statement-converter/internal/objstore"
	"github.com/dvloznov/statement-converter/internal/pipeline"
)

// The worker reads manifest lines ("input output from to") from -manifest or
// stdin and converts them as they arrive. It exits after the input ends and
// every job has finished, or on SIGINT/SIGTERM.
func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	manifest := flag.String("manifest", objstore.StdioURI, "Manifest path, gs:// URI or - for stdin")
	workers := flag.Int("workers", cfg.WorkerCount, "Number of concurrent conversions (or set WORKER_COUNT env)")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	store := objstore.NewURIStore()
	defer store.Close()
	deps := pipeline.Dependencies{
		Store:    store,
		Registry: convert.NewRegistry(cfg.CSV),
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, *workers, jobStore, log)

	log.Info().Int("workers", *workers).Str("manifest", *manifest).Msg("Starting worker service")
	if err := jobQueue.Start(ctx, pipeline.NewJobHandler(deps)); err != nil {
		log.Error().Err(err).Msg("Failed to start job consumer")
		return 1
	}
	defer jobQueue.Close()

	r, err := store.Open(ctx, *manifest)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open manifest")
		return 1
	}

	published := 0
	err = jobs.ScanManifest(r, func(job *jobs.ConvertJob) error {
		if err := jobQueue.PublishConvert(ctx, job); err != nil {
			return err
		}
		published++
		log.Debug().Str("job_id", job.JobID).Str("input", job.InputURI).Msg("Job enqueued")
		return nil
	})
	r.Close()
	if err != nil {
		log.Error().Err(err).Msg("Stopped reading manifest")
	}

	if err := jobQueue.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("Interrupted before all jobs finished")
	}

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	failed, _ := jobStore.ListJobs(shutdownCtx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	log.Info().
		Int("published", published).
		Int("failed", len(failed)).
		Msg("Worker service exited")
	if len(failed) > 0 {
		return 1
	}
	return 0
}
