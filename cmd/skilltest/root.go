package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/abzhaw/superpowers/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

var (
	cfgFile string
	envFile string
	debug   bool
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "skilltest",
		Short:         "skilltest is a behavioral regression harness for skill-steered agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file with variables for the agent process")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(fmt.Sprintf("bind config flag: %v", err))
	}
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Options{Debug: debug})
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(ablateCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(reportCmd())
	return rootCmd
}

func initConfig() {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
}

// exitError carries a non-zero exit status for an outcome that was
// already reported to the user.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
}
