// Command tradesim runs a commodity trading scenario and records it to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/tradecycle/internal/api"
	"github.com/talgya/tradecycle/internal/config"
	"github.com/talgya/tradecycle/internal/engine"
	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/persistence"
	"github.com/talgya/tradecycle/internal/scenario"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default ./.env)")
	scenarioPath := flag.String("scenario", "", "scenario YAML (overrides TRADESIM_SCENARIO)")
	flag.Parse()

	cfg := config.Load(*envPath)
	if *scenarioPath != "" {
		cfg.Scenario = *scenarioPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// ── Scenario ──────────────────────────────────────────────────────
	sc, err := scenario.Load(cfg.Scenario)
	if err != nil {
		slog.Error("failed to load scenario", "error", err)
		os.Exit(1)
	}
	slog.Info("scenario loaded",
		"name", sc.Name,
		"start", sc.Start,
		"duration", sc.Duration,
		"markets", len(sc.Markets),
		"prototypes", len(sc.Prototypes),
		"builders", len(sc.Builders),
	)

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Simulation ────────────────────────────────────────────────────
	markets := market.NewRegistry()
	markets.Workers = cfg.Workers

	simID := uuid.New()
	rec := persistence.NewRecorder(db, simID.String())
	sim := engine.NewSimulation(markets, rec)
	sim.ID = simID

	if err := sc.Apply(sim.Agents); err != nil {
		slog.Error("failed to apply scenario", "error", err)
		os.Exit(1)
	}
	if err := db.SaveSimulation(sim.ID.String(), sc.Name, sc.Start, sc.Duration); err != nil {
		slog.Error("failed to save simulation info", "error", err)
		os.Exit(1)
	}
	if err := db.SaveMeta("last_sim", sim.ID.String()); err != nil {
		slog.Warn("failed to save meta", "error", err)
	}

	eng := engine.NewEngine()
	eng.Start = sc.Start
	eng.Duration = sc.Duration
	eng.Interval = cfg.Interval
	sim.Attach(eng)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.APIPort > 0 {
		if cfg.AdminKey == "" {
			slog.Warn("TRADESIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer := &api.Server{
			Sim:         sim,
			Eng:         eng,
			Port:        cfg.APIPort,
			AdminKey:    cfg.AdminKey,
			CORSOrigins: cfg.CORSOrigins,
		}
		apiServer.Start(ctx)
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	}

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("\nSimulation %s: %s, %d steps from %s.\n",
		sim.ID, sc.Name, sc.Duration, engine.SimTime(sc.Start))
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	began := time.Now()
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("simulation aborted", "error", err)
	}

	// Final flush on shutdown; the last step may have failed to write.
	slog.Info("final flush...")
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rec.Flush(flushCtx); err != nil {
		slog.Error("final flush failed", "error", err)
	}

	st := sim.Stats()
	slog.Info("simulation finished",
		"sim_id", sim.ID,
		"steps", eng.Tick()-sc.Start,
		"agents", st.Agents,
		"matches", humanize.Comma(int64(st.Matches)),
		"matched", st.Matched.StringFixed(2),
		"deliveries", humanize.Comma(int64(st.Deliveries)),
		"rejections", st.Rejections,
		"resolve_failures", st.Failures,
		"rows", humanize.Comma(rec.Flushed()),
		"elapsed", time.Since(began).Round(time.Millisecond),
	)

	summary, err := db.Summary(context.Background(), sim.ID.String())
	if err != nil {
		slog.Error("summary failed", "error", err)
	}
	for _, s := range summary {
		fmt.Printf("  %-12s %8s matches  %14s traded\n",
			s.Commodity, humanize.Comma(s.Matches), humanize.CommafWithDigits(s.Volume.InexactFloat64(), 2))
	}
	fmt.Printf("Simulation stopped. Output written to %s\n", cfg.DBPath)
}
