package main

import (
	"fmt"
	"strconv"

	"github.com/abzhaw/superpowers/internal/db"
	"github.com/abzhaw/superpowers/internal/reconcile"
	"github.com/abzhaw/superpowers/internal/run"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage skilltest runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsPruneCmd())
	cmd.AddCommand(runsPurgeCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := reconcile.Run(cmd.Context(), store, cfg.Runs.Dir)
			if err != nil {
				return err
			}
			if rec != (reconcile.Result{}) {
				log.Info().
					Int("completed", rec.Completed).
					Int("interrupted", rec.Interrupted).
					Int("imported", rec.Imported).
					Msg("run index reconciled")
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), runsTable(runs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most N runs (0 for all)")
	return cmd
}

func runsTable(runs []db.RunRecord) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		verdict := r.Verdict
		if verdict == "" {
			verdict = "-"
		}
		rows = append(rows, []string{r.RunID, r.CreatedAt, r.Mode, r.Status, strconv.Itoa(r.CurrentTurn), verdict})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "CREATED", "MODE", "STATUS", "TURNS", "VERDICT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	return t.String()
}

func runsPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from disk and the run index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			policy := cfg.Runs.Retention
			if keepLast > 0 || keepDays > 0 {
				policy.KeepLast = keepLast
				policy.KeepDays = keepDays
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure runs.retention)")
			}

			if _, err := reconcile.Run(cmd.Context(), store, cfg.Runs.Dir); err != nil {
				log.Warn().Err(err).Msg("run index reconciliation failed")
			}
			res, err := run.PruneRuns(cmd.Context(), store, cfg.Runs.Dir, policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d runs (kept %d, skipped %d)", mode, res.Deleted, res.Kept, res.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}

func runsPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove every finished run and its directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := reconcile.Run(cmd.Context(), store, cfg.Runs.Dir); err != nil {
				log.Warn().Err(err).Msg("run index reconciliation failed")
			}
			res, err := run.Purge(cmd.Context(), store, cfg.Runs.Dir)
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d runs (kept %d in progress, skipped %d locked)\n", res.Deleted, res.Kept, res.Skipped)
			return nil
		},
	}
}
