package main

import (
	"fmt"
	"path/filepath"

	"github.com/abzhaw/superpowers/internal/ablation"
	"github.com/abzhaw/superpowers/internal/run"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func ablateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "ablate",
		Short: "Write the ablated instruction set without running the agent",
		Long:  "Copy the canonical instruction set to --out, apply the configured ablation edits and print every applied edit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Ablation.Edits) == 0 {
				return fmt.Errorf("no ablation.edits configured")
			}
			canonical, err := filepath.Abs(cfg.Instructions.Dir)
			if err != nil {
				return err
			}
			res, err := ablation.Prepare(canonical, out, cfg.Instructions.Pattern, run.Edits(cfg.Ablation))
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode ablation: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "destination directory for the ablated copy")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
