package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abzhaw/superpowers/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	var raw bool
	var width int
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Render a run's summary in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runID := args[0]
			runDir := filepath.Join(cfg.Runs.Dir, runID)

			store, closeFn, err := openStore(cfg)
			if err != nil {
				log.Debug().Err(err).Msg("run index unavailable, using runs dir")
			} else {
				defer closeFn()
				if rec, ok, err := store.GetRun(cmd.Context(), runID); err == nil && ok && rec.RunDir != "" {
					runDir = rec.RunDir
				}
			}

			data, err := os.ReadFile(filepath.Join(runDir, report.SummaryFile))
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("run %s has no %s (still running or interrupted?)", runID, report.SummaryFile)
			}
			if err != nil {
				return err
			}
			if raw {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			out, err := report.RenderMarkdown(string(data), width)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown without rendering")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width")
	return cmd
}
