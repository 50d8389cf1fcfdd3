package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/commutersim/internal/config"
	"github.com/talgya/commutersim/internal/persistence"
)

// openArchive opens the run database named by --db, or the configured one.
func openArchive(cmd *cobra.Command, cfg *config.Config) (*persistence.DB, error) {
	path := cfg.Storage.Path
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		path = p
	}
	db, err := persistence.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return db, nil
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openArchive(cmd, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOut {
				if runs == nil {
					runs = []persistence.Run{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tDAYS\tCOMMUTERS\tSEED")
			for _, r := range runs {
				seed := "-"
				if r.Seed != nil {
					seed = fmt.Sprintf("%d", *r.Seed)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					r.RunID, humanize.Time(r.StartedAt), r.DaysCompleted, r.MaxDays,
					humanize.Comma(int64(r.Population)), seed)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	cmd.Flags().String("db", "", "SQLite database path (overrides config)")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Print the stored history of a run (default: the latest run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openArchive(cmd, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			runID, err := resolveRunID(db, args)
			if err != nil {
				return err
			}

			days, err := db.LoadHistory(runID)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"run_id": runID,
					"stats":  summarize(days),
					"days":   days,
				})
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DAY\tCARS\tBIKES\tAVG\tRAIN\tROADWORKS")
			for _, d := range days {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%.1f\t%s\t%s\n",
					d.Day, d.Cars, d.Bikes, d.MovingAverage, yesNo(d.Rain), yesNo(d.Roadworks))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			printStats(out, summarize(days))
			return nil
		},
	}

	cmd.Flags().String("db", "", "SQLite database path (overrides config)")

	return cmd
}

// resolveRunID returns the run named on the command line, or the most
// recently started one.
func resolveRunID(db *persistence.DB, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	id, err := db.GetMeta(persistence.MetaLastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("no runs recorded")
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest run: %w", err)
	}
	return id, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
