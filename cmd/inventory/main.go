// Command inventory rebuilds the Inventories table of a tradesim output
// database from its resource heritage and transactions.
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

	"github.com/dustin/go-humanize"

	"github.com/talgya/tradecycle/internal/config"
	"github.com/talgya/tradecycle/internal/inventory"
	"github.com/talgya/tradecycle/internal/persistence"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default ./.env)")
	dbPath := flag.String("db", "", "output database (overrides TRADESIM_DB)")
	at := flag.Int("at", -1, "also print holdings at this step for the last simulation")
	flag.Parse()

	cfg := config.Load(*envPath)
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if _, err := os.Stat(cfg.DBPath); err != nil {
		slog.Error("database not found", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	began := time.Now()
	reports, err := inventory.BuildAll(ctx, db)
	if err != nil {
		slog.Error("inventory build failed", "error", err)
		os.Exit(1)
	}

	failed := 0
	total := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Printf("  %s  FAILED: %v\n", r.SimID, r.Err)
			continue
		}
		total += r.Segments
		fmt.Printf("  %s  %10s segments\n", r.SimID, humanize.Comma(int64(r.Segments)))
	}
	slog.Info("inventories built",
		"simulations", len(reports),
		"failed", failed,
		"segments", humanize.Comma(int64(total)),
		"elapsed", time.Since(began).Round(time.Millisecond),
	)

	if *at >= 0 {
		simID, err := db.GetMeta("last_sim")
		if err != nil {
			slog.Error("no last simulation recorded", "error", err)
			os.Exit(1)
		}
		holdings, err := inventory.HoldingsAt(ctx, db, simID, *at)
		if err != nil {
			slog.Error("holdings query failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("\nHoldings of %s at step %d:\n", simID, *at)
		for _, h := range holdings {
			fmt.Printf("  agent %-6d %-12s %14s\n", h.AgentID, h.Commodity, humanize.CommafWithDigits(h.Quantity.InexactFloat64(), 2))
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
