// Package cmd implements authctl, the administration tool that works
// directly against the configured store.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pilab-dev/shadow-authz/config"
	"github.com/pilab-dev/shadow-authz/internal/app"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const actorCLI = "authctl"

var (
	cfg     *config.ServerConfig
	verbose bool
	output  string
)

// loadConfig is replaced in tests.
var loadConfig = config.LoadConfig

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "authctl administers a shadow-authz deployment",
	Long:          `A command-line tool for migrations, client registration, role assignment and session management. It talks to the configured store directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
		audit.SetSink(audit.NewZerologSink(log.Logger))

		c, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table or yaml")
}

// withServices opens the store, wires the services, runs fn and closes everything.
func withServices(ctx context.Context, fn func(ctx context.Context, store *app.Store, svc *app.Services) error) error {
	hasher := app.NewHasher(cfg)
	store, err := app.OpenStore(ctx, cfg, hasher)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	rdb := app.NewRedisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	svc, err := app.NewServices(cfg, store, hasher, rdb)
	if err != nil {
		return err
	}
	defer svc.Stop()

	return fn(ctx, store, svc)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
