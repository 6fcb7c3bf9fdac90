package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mealbuddy/internal/bootstrap"
	"mealbuddy/internal/migrate"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database schema",
}

var downgradeSteps int

// withMigrator opens persistence only and hands a migrator to fn.
func withMigrator(fn func(ctx context.Context, m *migrate.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, persist, err := bootstrap.OpenPersistence(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := migrate.New(persist.Handle())
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return fn(a.Context(ctx), m)
}

var dbUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			n, err := m.Upgrade(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s), schema at version %d\n", n, m.Latest())
			return nil
		})
	},
}

var dbDowngradeCmd = &cobra.Command{
	Use:   "downgrade",
	Short: "Revert the newest migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			n, err := m.Downgrade(ctx, downgradeSteps)
			if err != nil {
				return err
			}
			current, err := m.Current(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s), schema at version %d\n", n, current)
			return nil
		})
	},
}

var dbCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			current, err := m.Current(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d (latest %d)\n", current, m.Latest())
			return nil
		})
	},
}

var dbHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			records, err := m.History(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME")
			for _, r := range records {
				fmt.Fprintf(w, "%04d\t%s\n", r.Version, r.Name)
			}
			return w.Flush()
		})
	},
}

var dbForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Mark VERSION as applied and clean after repairing a failed migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil || version < 0 {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return withMigrator(func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Force(ctx, version); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema forced to version %d\n", version)
			return nil
		})
	},
}

var dbCreateAllCmd = &cobra.Command{
	Use:   "create-all",
	Short: "Create every registered table without migrations (development only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.IsProduction() {
			return errors.New("create-all is disabled in production; use `server db upgrade`")
		}
		cfg = cfg.Clone()
		cfg.EnableCreateAll = true

		a, err := bootstrap.CreateApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "tables created")
		return nil
	},
}

func init() {
	dbDowngradeCmd.Flags().IntVarP(&downgradeSteps, "steps", "n", 1, "number of migrations to revert")
	dbCmd.AddCommand(dbUpgradeCmd, dbDowngradeCmd, dbCurrentCmd, dbHistoryCmd, dbForceCmd, dbCreateAllCmd)
	rootCmd.AddCommand(dbCmd)
}
