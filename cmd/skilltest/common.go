package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/abzhaw/superpowers/internal/config"
	"github.com/abzhaw/superpowers/internal/db"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func loadConfig() (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = config.DefaultPath
	}
	return config.Load(viper.New(), path)
}

func openStore(cfg config.Config) (*db.Store, func(), error) {
	storeDB, err := db.Open(cfg.Runs.Index)
	if err != nil {
		return nil, func() {}, err
	}
	return db.NewStore(storeDB), func() { _ = storeDB.Close() }, nil
}

// loadEnv reads the dotenv file as KEY=VALUE pairs. A missing default file
// is not an error; a missing file named explicitly is.
func loadEnv(cmd *cobra.Command) ([]string, error) {
	if envFile == "" {
		return nil, nil
	}
	if _, err := os.Stat(envFile); os.IsNotExist(err) && !cmd.Flags().Changed("env-file") {
		return nil, nil
	}
	vars, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}
