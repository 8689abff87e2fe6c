package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/pilab-dev/shadow-authz/config"
	"github.com/pilab-dev/shadow-authz/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if cfg.StorageDriver != config.StoragePostgres {
			return errors.New("migrations only apply to STORAGE_DRIVER=postgres")
		}
		return nil
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := postgres.Migrate(cmd.Context(), cfg.PostgresURL); err != nil {
			return err
		}
		fmt.Fprintln(out(cmd), "migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		states, err := postgres.Status(cmd.Context(), cfg.PostgresURL)
		if err != nil {
			return err
		}
		if output == "yaml" {
			return printYAML(out(cmd), states)
		}

		rows := make([][]string, 0, len(states))
		for _, s := range states {
			rows = append(rows, []string{strconv.FormatInt(s.Version, 10), s.Path, strconv.FormatBool(s.Applied)})
		}
		return printTable(out(cmd), []string{"VERSION", "FILE", "APPLIED"}, rows)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
