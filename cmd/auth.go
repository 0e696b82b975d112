package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/internal/store"
)

var authQuiet bool

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage account authentication",
	Long: `Manage authentication for linked provider accounts.

The auth command group provides subcommands to link accounts, check their
credential status, and clear stored credentials.

Examples:
  warden auth login --account work-chat    # Run the provider's auth flow
  warden auth login --account ci --api-key # Link an API key directly
  warden auth status                       # Show credential status
  warden auth refresh --account work-chat  # Renew expired OAuth tokens
  warden auth logout --account work-chat   # Clear stored credentials`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored credentials for an account",
	Long: `Clear the encrypted credentials stored for an account.

The account itself stays configured; the next login relinks it.

Examples:
  warden auth logout --account work-chat`,
	RunE: runAuthLogout,
}

var logoutAccount string

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(format string, args ...interface{}) {
	if !authQuiet {
		fmt.Printf(format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(a ...interface{}) {
	if !authQuiet {
		fmt.Println(a...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authStatusCmd)

	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")

	authLogoutCmd.Flags().StringVar(&logoutAccount, "account", "", "Account id to log out")
	_ = authLogoutCmd.MarkFlagRequired("account")
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}

	if _, ok := env.accounts.Get(logoutAccount); !ok {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, logoutAccount)
	}
	if !env.accounts.HasCredentials(logoutAccount) {
		authPrintln("No credentials stored for", logoutAccount)
		return nil
	}

	if err := env.accounts.ClearCredentials(logoutAccount); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	authPrint("Cleared credentials for %s\n", logoutAccount)
	return nil
}
