package main

import (
	"context"
	"log/slog"
	"mealbuddy/internal/config"
	"mealbuddy/internal/logging"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "MealBuddy API server",
	Long: `Runs the MealBuddy API. With no subcommand the development server
is started, listening on 0.0.0.0:3001.`,
	SilenceUsage: true,
	RunE:         runDev,
}

// loadConfig reads .env and the environment and initialises logging.
func loadConfig() (*config.Config, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		slog.Debug("no .env file loaded", "error", envErr)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
