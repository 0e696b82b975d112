package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var refreshAccount string

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew an account's tokens with its stored refresh token",
	Long: `Renew an account's stored OAuth tokens without re-running the full flow.

The stored refresh token is redeemed at the provider's token endpoint for a
fresh access token. Only accounts linked through an OAuth flow carry refresh
tokens; cookie-session and API-key accounts are relinked with 'auth login'.

Examples:
  warden auth refresh --account work-chat`,
	RunE: runAuthRefresh,
}

func init() {
	authRefreshCmd.Flags().StringVar(&refreshAccount, "account", "", "Account id to refresh")
	_ = authRefreshCmd.MarkFlagRequired("account")
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}

	result, err := env.orch.RefreshCredentials(cmd.Context(), refreshAccount)
	if err != nil {
		return err
	}

	if !authQuiet {
		fmt.Println(text.FgGreen.Sprintf("Refreshed credentials for %s.", result.AccountID))
		if !result.ExpiresAt.IsZero() {
			fmt.Printf("Credentials expire %s\n", formatExpiryWithDirection(result.ExpiresAt))
		}
	}
	return nil
}
