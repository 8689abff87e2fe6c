package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-authz/internal/app"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "Manage sessions and issued tokens",
	Aliases: []string{"session"},
}

var sessionsInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Invalidate every outstanding token by bumping the epoch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			epoch, err := svc.Tokens.InvalidateAll(ctx, actorCLI)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "token epoch is now %d\n", epoch)
			return nil
		})
	},
}

var sessionsIssueCmd = &cobra.Command{
	Use:   "issue USER_ID",
	Short: "Mint a primary session token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		return withServices(cmd.Context(), func(ctx context.Context, store *app.Store, svc *app.Services) error {
			if _, err := store.Users.GetUser(ctx, args[0]); err != nil {
				return fmt.Errorf("look up user %s: %w", args[0], err)
			}
			token, err := svc.Issuer.IssueSession(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), token)
			return nil
		})
	},
}

func init() {
	sessionsIssueCmd.Flags().Duration("ttl", time.Hour, "session lifetime")

	sessionsCmd.AddCommand(sessionsInvalidateCmd, sessionsIssueCmd)
	rootCmd.AddCommand(sessionsCmd)
}
