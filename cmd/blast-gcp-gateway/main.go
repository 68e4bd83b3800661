// Command blast-gcp-gateway is the HTTP and websocket front of the BLAST-GCP
// backend.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blastgcp/blastq/internal/config"
	"github.com/blastgcp/blastq/internal/gateway"
	"github.com/blastgcp/blastq/internal/platform/queue"
	"github.com/blastgcp/blastq/internal/platform/web"
)

func main() {
	cfgPath := flag.String("cfg", config.DefaultPath, "configuration file")
	flag.Parse()

	// 1. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	gw := cfg.Gateway

	// 3. Initialize Redis Queue (Fail-Fast)
	redisQ, err := queue.NewRedisQueue(ctx, queue.Options{
		Addr:      gw.RedisAddress,
		StatusTTL: gw.StatusTTL,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer redisQ.Close()

	// 4. Setup Rate Limiter
	limiter := web.NewRateLimiter(gw.Rate, gw.Burst)
	go limiter.Run(ctx)

	// 5. Start Status Broadcaster
	srv := gateway.NewServer(redisQ, gw.Databases, limiter, nil, logger)
	go func() {
		if err := srv.Hub().Broadcast(ctx, redisQ); err != nil {
			slog.Error("Status broadcaster failed", "error", err)
			stop()
		}
	}()

	// 6. Serve until signalled
	httpSrv := &http.Server{
		Addr:              gw.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("API Server starting", "addr", gw.ListenAddress, "databases", gw.Databases)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("API Server stopped")
}
