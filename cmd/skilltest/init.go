package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func initCmd() *cobra.Command {
	var instructionsDir string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default scenario config",
		Long:  "Write the default plan-mode-after-design scenario to the config path, creating its directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.DefaultPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				log.Info().Str("path", path).Msg("config already exists, skipping")
				return nil
			}

			data, err := config.DefaultYAML(instructionsDir)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write default config: %w", err)
			}
			log.Info().Str("path", path).Msg("default config installed")
			fmt.Fprintln(cmd.OutOrStdout(), "skilltest initialized successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&instructionsDir, "instructions", "", "instruction set directory to write into the config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
