package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/commutersim/internal/api"
	"github.com/talgya/commutersim/internal/engine"
	"github.com/talgya/commutersim/internal/persistence"
	"github.com/talgya/commutersim/internal/weather"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulation over HTTP",
		Long: `Start the HTTP API. GET endpoints are public; POST endpoints (step, run,
reset, initialize, params, weather, roadworks) require the admin key as a
bearer token. Day reports are streamed over a websocket at /api/v1/stream.

With --autoplay the server steps the simulation itself, one day per
interval, until the last day. When environment.live_weather.api_key is set,
autoplay takes each day's rain from OpenWeatherMap instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.API.Port, _ = flags.GetInt("port")
			}
			if flags.Changed("db") {
				cfg.Storage.Path, _ = flags.GetString("db")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// ── Database ──────────────────────────────────────────────────
			var db *persistence.DB
			reporters := engine.Reporters{}
			if cfg.Storage.Path != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
					return fmt.Errorf("failed to create database directory: %w", err)
				}
				db, err = persistence.Open(cfg.Storage.Path)
				if err != nil {
					return fmt.Errorf("failed to open database: %w", err)
				}
				defer db.Close()
				reporters = append(reporters, persistence.NewRecorder(db, logger))
				logger.Info("database opened", "path", cfg.Storage.Path)
			} else {
				logger.Warn("storage path empty, runs will not be recorded")
			}

			// ── Stream ────────────────────────────────────────────────────
			hub := api.NewHub(logger)
			go hub.Run(ctx)
			reporters = append(reporters, hub)

			// ── Simulation ────────────────────────────────────────────────
			sim := engine.NewSimulation(cfg.Setup(), cfg.Params(), reporters, logger)
			sim.SetRainAuto(cfg.Environment.RainAuto)
			sim.SetRoadworksAuto(cfg.Environment.RoadworksAuto)

			srv := &api.Server{
				Sim:      sim,
				DB:       db,
				Hub:      hub,
				AdminKey: cfg.API.AdminKey,
				Log:      logger,
			}

			if auto, _ := flags.GetBool("autoplay"); auto {
				clock := engine.NewClock(sim)
				clock.Interval, _ = flags.GetDuration("interval")
				speed, _ := flags.GetFloat64("speed")
				clock.SetSpeed(speed)
				if wc := weather.NewClient(cfg.Environment.LiveWeather.APIKey, cfg.Environment.LiveWeather.Location); wc != nil {
					sim.SetRainAuto(false)
					clock.BeforeStep = func(ctx context.Context) {
						if err := wc.Apply(ctx, sim); err != nil {
							logger.Warn("live weather unavailable, keeping current rain", "error", err)
						}
					}
					logger.Info("live weather enabled", "location", cfg.Environment.LiveWeather.Location)
				}
				srv.Clock = clock
				go autoplay(ctx, clock, sim, logger)
			}

			// ── HTTP API ──────────────────────────────────────────────────
			err = srv.ListenAndServe(ctx, cfg.API.Port)
			logger.Info("shutting down")
			return err
		},
	}

	cmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	cmd.Flags().String("db", "", "SQLite database path (overrides config)")
	cmd.Flags().Bool("autoplay", false, "Step the simulation automatically")
	cmd.Flags().Duration("interval", time.Second, "Autoplay interval between days")
	cmd.Flags().Float64("speed", 1, "Autoplay speed multiplier (0 = paused)")

	return cmd
}

// autoplay keeps the clock going across resets: once the last day is reached
// it waits for the simulation to be reset or re-initialized, then resumes.
func autoplay(ctx context.Context, clock *engine.Clock, sim *engine.Simulation, logger *slog.Logger) {
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		clock.Run(ctx)
		logger.Info("autoplay idle, waiting for reset")

		for sim.Finished() {
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
