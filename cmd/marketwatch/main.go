// Command marketwatch watches a running tradesim through its API.
// It pauses the simulation when a market stalls with a backlog and resumes
// it once the market clears.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talgya/tradecycle/internal/config"
	"github.com/talgya/tradecycle/internal/watcher"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default ./.env)")
	flag.Parse()

	cfg := config.Load(*envPath)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if cfg.AdminKey == "" {
		slog.Error("TRADESIM_ADMIN_KEY is required")
		os.Exit(1)
	}

	slog.Info("marketwatch starting",
		"api_url", cfg.Watch.APIURL,
		"interval", cfg.Watch.Interval,
		"stall_steps", cfg.Watch.StallSteps,
		"memory", cfg.Watch.MemoryPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := watcher.New(cfg.Watch.APIURL, cfg.AdminKey, cfg.Watch.MemoryPath, cfg.Watch.StallSteps)

	// Wait for the tradesim API to be ready before the first cycle.
	slog.Info("waiting for tradesim API...")
	if !waitForAPI(ctx, w.Observer) {
		os.Exit(1)
	}

	// Run first cycle immediately.
	runCycle(ctx, w)

	ticker := time.NewTicker(cfg.Watch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, w)
		case <-ctx.Done():
			slog.Info("received signal, shutting down")
			fmt.Println("marketwatch stopped.")
			return
		}
	}
}

func runCycle(ctx context.Context, w *watcher.Watcher) {
	d, err := w.RunCycle(ctx)
	if err != nil {
		slog.Error("watch cycle failed", "error", err)
		return
	}
	if d.Action == watcher.ActionNone {
		slog.Info("watch cycle complete, no action", "reason", d.Reason)
		return
	}
	slog.Info("speed changed", "action", d.Action, "speed", d.Speed, "reason", d.Reason)
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Gives up after 5 minutes or when ctx is cancelled.
func waitForAPI(ctx context.Context, o *watcher.Observer) bool {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		if o.Ready(ctx) {
			slog.Info("tradesim API is ready")
			return true
		}
		if time.Now().After(deadline) {
			slog.Error("tradesim API did not become ready within 5 minutes")
			return false
		}
		slog.Info("tradesim not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
