package main

import (
	"mealbuddy/internal/bootstrap"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve in production mode on HOST:PORT",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return bootstrap.Serve(ctx, cfg, bootstrap.Production(cfg))
	},
}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Serve in development mode on " + bootstrap.DevAddr,
	RunE:  runDev,
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return bootstrap.Serve(ctx, cfg, bootstrap.Development())
}

func init() {
	rootCmd.AddCommand(serveCmd, devCmd)
}
