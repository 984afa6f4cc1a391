package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/abzhaw/superpowers/internal/logging"
	"github.com/abzhaw/superpowers/internal/report"
	"github.com/abzhaw/superpowers/internal/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var verbose bool
	var withoutFix bool
	var runsDir string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured scenario once and report a verdict",
		Long: "Run the configured scenario against the agent and decide a verdict from its transcript.\n" +
			"With --without-fix the fix is ablated from a copy of the instruction set first (negative control).\n" +
			"Exits 0 on PASS or REPRODUCED and 1 otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.Options{Debug: debug, Verbose: verbose})

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}

			store, closeFn, err := openStore(cfg)
			if err != nil {
				log.Warn().Err(err).Str("path", cfg.Runs.Index).Msg("run index unavailable")
			}
			defer closeFn()

			runner, err := run.NewRunner(cfg, store)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := run.Options{WithoutFix: withoutFix, RunsDir: runsDir, Env: env}
			if logging.VerboseEnabled() {
				opts.Excerpts = cmd.OutOrStdout()
			}
			res, err := runner.Run(ctx, opts)
			if err != nil {
				return err
			}

			report.Print(cmd.OutOrStdout(), res.Report)
			if !res.Verdict.Success() {
				return &exitError{code: res.Verdict.ExitCode()}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "echo transcript excerpts while the agent runs")
	cmd.Flags().BoolVar(&withoutFix, "without-fix", false, "run the negative control with the fix ablated")
	cmd.Flags().StringVar(&runsDir, "runs-dir", "", "directory for run outputs (default from config)")
	return cmd
}
