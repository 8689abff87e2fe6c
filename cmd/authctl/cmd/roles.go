package cmd

import (
	"context"
	"fmt"

	"github.com/pilab-dev/shadow-authz/internal/app"
	"github.com/spf13/cobra"
)

var rolesCmd = &cobra.Command{
	Use:     "roles",
	Short:   "Manage application role assignments",
	Aliases: []string{"role"},
}

var rolesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the default role permissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			if err := svc.Roles.SeedRegistry(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "role permissions seeded")
			return nil
		})
	},
}

var rolesListCmd = &cobra.Command{
	Use:   "list CLIENT_ID",
	Short: "List role assignments within an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			list, err := svc.Roles.List(ctx, args[0])
			if err != nil {
				return err
			}
			if output == "yaml" {
				return printYAML(out(cmd), list)
			}

			rows := make([][]string, 0, len(list))
			for _, a := range list {
				rows = append(rows, []string{a.UserID, a.Role, a.Permissions})
			}
			return printTable(out(cmd), []string{"USER ID", "ROLE", "PERMISSIONS"}, rows)
		})
	},
}

var rolesAssignCmd = &cobra.Command{
	Use:   "assign USER_ID CLIENT_ID ROLE",
	Short: "Assign a role to a user within an application",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		perms, _ := cmd.Flags().GetString("permissions")
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			a, err := svc.Roles.Assign(ctx, actorCLI, args[0], args[1], args[2], perms)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "user %s is %s of %s\n", a.UserID, a.Role, a.ClientID)
			return nil
		})
	},
}

var rolesRemoveCmd = &cobra.Command{
	Use:   "remove USER_ID CLIENT_ID",
	Short: "Remove a user's role within an application",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			if err := svc.Roles.Remove(ctx, actorCLI, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "role of %s in %s removed\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	rolesAssignCmd.Flags().String("permissions", "", "comma separated permission list")

	rolesCmd.AddCommand(rolesSeedCmd, rolesListCmd, rolesAssignCmd, rolesRemoveCmd)
	rootCmd.AddCommand(rolesCmd)
}
