// Command blast-gcp-worker runs queued BLAST searches in Docker containers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blastgcp/blastq/internal/config"
	"github.com/blastgcp/blastq/internal/platform/docker"
	"github.com/blastgcp/blastq/internal/platform/queue"
	"github.com/blastgcp/blastq/internal/worker"
)

// recoveryInterval is how often the PEL is scanned for lost jobs.
const recoveryInterval = time.Minute

func main() {
	cfgPath := flag.String("cfg", config.DefaultPath, "configuration file")
	flag.Parse()

	// 1. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("Starting BLAST-GCP Worker...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	wk := cfg.Worker

	// 3. Initialize Docker Client (Fail-Fast)
	runner, err := docker.NewClient(ctx, docker.Config{
		Image:      wk.Image,
		BlastDBDir: wk.BlastDBDir,
		MemoryMB:   wk.MemoryMB,
	}, logger)
	if err != nil {
		slog.Error("Docker is not available", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	// 4. Initialize Redis Queue (Fail-Fast)
	redisQ, err := queue.NewRedisQueue(ctx, queue.Options{
		Addr:      wk.RedisAddress,
		StatusTTL: cfg.Gateway.StatusTTL,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer redisQ.Close()

	// 5. Release jobs whose worker died
	go redisQ.StartRecoveryRoutine(ctx, recoveryInterval, wk.StaleAfter)

	// 6. Start the pool and feed it until shutdown
	pool := worker.NewPool(wk.Concurrency, runner, redisQ, wk.JobTimeout, logger)
	pool.Start(ctx)

	jobs, err := redisQ.Subscribe(ctx)
	if err != nil {
		slog.Error("Failed to subscribe to jobs", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker listening for jobs", "concurrency", wk.Concurrency)

	// Consume returns once ctx ends and the subscription closes.
	pool.Consume(jobs)
	pool.Stop()
	slog.Info("Worker shut down")
}
