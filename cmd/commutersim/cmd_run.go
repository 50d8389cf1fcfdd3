package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/commutersim/internal/engine"
	"github.com/talgya/commutersim/internal/persistence"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation to the last day and print a summary",
		Long: `Initialize a population and simulate every day in run mode, printing a
status line per day followed by summary statistics.

Examples:
  commutersim run                              # Defaults from config
  commutersim run --days 200 --seed 7          # Reproducible longer run
  commutersim run --rain-auto --roadworks-auto # Random weather and roadworks
  commutersim run --db data/commutersim.db     # Record the run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("days") {
				cfg.Simulation.MaxDays, _ = flags.GetInt("days")
			}
			if flags.Changed("residents") {
				cfg.Simulation.ResidentsPerLocation, _ = flags.GetInt("residents")
			}
			if flags.Changed("car-probability") {
				cfg.Simulation.InitialCarProbability, _ = flags.GetFloat64("car-probability")
			}
			if flags.Changed("seed") {
				seed, _ := flags.GetInt64("seed")
				cfg.Simulation.RandomSeed = &seed
			}
			if flags.Changed("rain-auto") {
				cfg.Environment.RainAuto, _ = flags.GetBool("rain-auto")
			}
			if flags.Changed("roadworks-auto") {
				cfg.Environment.RoadworksAuto, _ = flags.GetBool("roadworks-auto")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var reporters engine.Reporters
			if !jsonOut {
				reporters = append(reporters, consoleReporter{out: cmd.OutOrStdout()})
			}

			dbPath, _ := cmd.Flags().GetString("db")
			if dbPath != "" {
				if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
					return fmt.Errorf("failed to create database directory: %w", err)
				}
				db, err := persistence.Open(dbPath)
				if err != nil {
					return fmt.Errorf("failed to open database: %w", err)
				}
				defer db.Close()
				reporters = append(reporters, persistence.NewRecorder(db, logger))
			}

			sim := engine.NewSimulation(cfg.Setup(), cfg.Params(), reporters, logger)
			sim.SetRainAuto(cfg.Environment.RainAuto)
			sim.SetRoadworksAuto(cfg.Environment.RoadworksAuto)

			// Ctrl-C stops run mode after the current day.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				sim.Stop()
			}()

			sim.Run()

			summary := sim.Summary()
			records := summary.History.Records()
			stats := summarize(records)

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"run_id":   summary.RunID,
					"day":      summary.Day,
					"max_days": summary.MaxDays,
					"stats":    stats,
					"days":     records,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Run %s: %d of %d days, %d commuters\n",
				summary.RunID, summary.Day, summary.MaxDays, sim.Status().Population)
			printStats(out, stats)
			return nil
		},
	}

	cmd.Flags().Int("days", 0, "Number of days to simulate (overrides config)")
	cmd.Flags().Int("residents", 0, "Residents per location (overrides config)")
	cmd.Flags().Float64("car-probability", 0, "Initial probability of preferring the car (overrides config)")
	cmd.Flags().Int64("seed", 0, "Random seed for a reproducible run")
	cmd.Flags().Bool("rain-auto", false, "Generate rain automatically")
	cmd.Flags().Bool("roadworks-auto", false, "Generate roadworks automatically")
	cmd.Flags().String("db", "", "Record the run in this SQLite database")

	return cmd
}
