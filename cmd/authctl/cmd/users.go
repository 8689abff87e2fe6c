package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pilab-dev/shadow-authz/internal/app"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var usersCmd = &cobra.Command{
	Use:     "users",
	Short:   "Manage local user accounts",
	Aliases: []string{"user"},
}

var usersAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, _ := cmd.Flags().GetString("first-name")
		last, _ := cmd.Flags().GetString("last-name")
		password, _ := cmd.Flags().GetString("password")

		if password == "" {
			p, err := readPassword(cmd)
			if err != nil {
				return err
			}
			password = p
		}

		return withServices(cmd.Context(), func(ctx context.Context, store *app.Store, _ *app.Services) error {
			u, err := store.Users.CreateUser(ctx, args[0], password, first, last)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "user %s created with id %s\n", u.Email, u.ID)
			return nil
		})
	},
}

// passwordReader is replaced in tests.
var passwordReader = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	p, err := passwordReader()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(p) == 0 {
		return "", errors.New("password must not be empty")
	}
	return string(p), nil
}

func init() {
	usersAddCmd.Flags().String("first-name", "", "first name")
	usersAddCmd.Flags().String("last-name", "", "last name")
	usersAddCmd.Flags().String("password", "", "password; prompted for when omitted")

	usersCmd.AddCommand(usersAddCmd)
	rootCmd.AddCommand(usersCmd)
}
