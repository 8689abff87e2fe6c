package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-authz/client"
	"github.com/pilab-dev/shadow-authz/internal/app"
	"github.com/spf13/cobra"
)

var clientCmd = &cobra.Command{
	Use:     "client",
	Short:   "Manage registered applications",
	Aliases: []string{"clients"},
}

var clientRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an application and print its secret once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		redirects, _ := cmd.Flags().GetStringSlice("redirect-uri")
		homepage, _ := cmd.Flags().GetString("homepage")
		scopes, _ := cmd.Flags().GetStringSlice("scope")

		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			c, secret, err := svc.Clients.Register(ctx, client.RegisterRequest{
				Name:         name,
				RedirectURIs: redirects,
				HomepageURL:  homepage,
				Scopes:       scopes,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out(cmd), "client_id:     %s\nclient_secret: %s\n", c.ID, secret)
			fmt.Fprintln(out(cmd), "Store the secret now; it cannot be shown again.")
			return nil
		})
	},
}

var clientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered applications",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			list, err := svc.Clients.List(ctx)
			if err != nil {
				return err
			}
			if output == "yaml" {
				return printYAML(out(cmd), list)
			}

			rows := make([][]string, 0, len(list))
			for _, c := range list {
				rows = append(rows, []string{
					c.ID, c.Name, string(c.Status),
					strings.Join(c.RedirectURIs, ","), strings.Join(c.Scopes, " "),
					c.CreatedAt.Format(time.RFC3339),
				})
			}
			return printTable(out(cmd), []string{"CLIENT ID", "NAME", "STATUS", "REDIRECT URIS", "SCOPES", "CREATED"}, rows)
		})
	},
}

var clientDisableCmd = &cobra.Command{
	Use:   "disable CLIENT_ID",
	Short: "Disable an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cascade, _ := cmd.Flags().GetBool("cascade")
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			if err := svc.Clients.Disable(ctx, args[0], cascade); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "client %s disabled\n", args[0])
			return nil
		})
	},
}

var clientDeleteCmd = &cobra.Command{
	Use:   "delete CLIENT_ID",
	Short: "Delete an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("refusing to delete without --yes")
		}
		return withServices(cmd.Context(), func(ctx context.Context, _ *app.Store, svc *app.Services) error {
			if err := svc.Clients.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "client %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	clientRegisterCmd.Flags().String("name", "", "application name")
	clientRegisterCmd.Flags().StringSlice("redirect-uri", nil, "allowed redirect URI (repeatable)")
	clientRegisterCmd.Flags().String("homepage", "", "application homepage URL")
	clientRegisterCmd.Flags().StringSlice("scope", nil, "allowed scope (repeatable)")
	_ = clientRegisterCmd.MarkFlagRequired("name")
	_ = clientRegisterCmd.MarkFlagRequired("redirect-uri")

	clientDisableCmd.Flags().Bool("cascade", false, "also revoke every token issued to the client")
	clientDeleteCmd.Flags().Bool("yes", false, "confirm deletion")

	clientCmd.AddCommand(clientRegisterCmd, clientListCmd, clientDisableCmd, clientDeleteCmd)
	rootCmd.AddCommand(clientCmd)
}
