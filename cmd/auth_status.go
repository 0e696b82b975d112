package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"warden/internal/autherr"
	"warden/internal/config"
	"warden/internal/orchestrator"
	"warden/internal/store"
	pkgstrings "warden/pkg/strings"
)

// Status-specific flags
var statusAccount string

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential status for linked accounts",
	Long: `Show the credential status of every configured account.

For each account this reports whether credentials are stored, whether they
can still be decrypted, and when they expire. Decryption happens locally;
nothing is sent to the provider.

Examples:
  warden auth status                       # All accounts
  warden auth status --account work-chat   # One account in detail`,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().StringVar(&statusAccount, "account", "", "Show status for a single account")
}

// credentialState summarizes what warden can tell about one account's
// stored credentials without talking to the provider.
type credentialState struct {
	status    string
	expiresAt time.Time // zero when the credential kind has no expiry
	workspace string
}

const (
	statusNotLinked     = "not linked"
	statusLinked        = "linked"
	statusExpired       = "expired"
	statusUndecryptable = "undecryptable"
)

func runAuthStatus(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}

	if statusAccount != "" {
		return showAccountStatus(env, statusAccount)
	}

	accounts := env.accounts.List()
	if len(accounts) == 0 {
		authPrintln("No accounts configured. Add one with 'warden accounts add'.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ACCOUNT", "PROVIDER", "STATUS", "EXPIRES", "LAST ERROR"})

	for _, account := range accounts {
		state := inspectCredentials(env, account)

		expires := "-"
		if !state.expiresAt.IsZero() {
			expires = formatExpiryWithDirection(state.expiresAt)
		}

		t.AppendRow(table.Row{
			account.ID,
			providerLabel(env, account.ProviderID),
			colorStatus(state.status),
			expires,
			pkgstrings.Truncate(account.LastError, pkgstrings.DefaultCellWidth),
		})
	}

	t.Render()
	return nil
}

// showAccountStatus prints a detailed view of a single account.
func showAccountStatus(env *cliEnv, accountID string) error {
	account, ok := env.accounts.Get(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountID)
	}

	state := inspectCredentials(env, account)

	fmt.Printf("Account:   %s\n", account.ID)
	fmt.Printf("Provider:  %s\n", providerLabel(env, account.ProviderID))
	fmt.Printf("Status:    %s\n", colorStatus(state.status))
	if !state.expiresAt.IsZero() {
		fmt.Printf("Expires:   %s\n", formatExpiryWithDirection(state.expiresAt))
	}
	if state.workspace != "" {
		fmt.Printf("Workspace: %s\n", state.workspace)
	}
	if account.LastError != "" {
		fmt.Printf("Last error: %s\n", text.FgYellow.Sprint(account.LastError))
	}

	switch state.status {
	case statusNotLinked:
		fmt.Println("\nTo link this account, run:")
		fmt.Printf("  warden auth login --account %s\n", account.ID)
	case statusExpired:
		fmt.Println("\nTo renew the tokens, run:")
		fmt.Printf("  warden auth refresh --account %s\n", account.ID)
	}
	return nil
}

// inspectCredentials decrypts an account's stored credentials and reports
// what it finds. An undecryptable blob is reported as exactly that, never
// as missing credentials.
func inspectCredentials(env *cliEnv, account *store.Account) credentialState {
	provider, _ := env.cfg.Provider(account.ProviderID)

	kind := config.AuthKindAPIKey
	if provider != nil {
		kind = provider.Auth
	}

	switch kind {
	case config.AuthKindPKCE, config.AuthKindDeviceCode:
		token, err := env.orch.TokenCredentials(account.ID)
		if err != nil {
			return stateForError(err)
		}
		state := credentialState{status: statusLinked, expiresAt: token.ExpiresAt}
		if !token.ExpiresAt.IsZero() && token.ExpiresAt.Before(time.Now()) {
			state.status = statusExpired
		}
		return state

	case config.AuthKindCookieSession:
		cookies, err := env.orch.CookieSessionCredentials(account.ID)
		if err != nil {
			return stateForError(err)
		}
		return credentialState{status: statusLinked, workspace: cookies.WorkspaceID}

	default:
		if _, err := env.orch.Credentials(account.ID); err != nil {
			return stateForError(err)
		}
		return credentialState{status: statusLinked}
	}
}

func stateForError(err error) credentialState {
	if errors.Is(err, orchestrator.ErrNoCredentials) {
		return credentialState{status: statusNotLinked}
	}
	if autherr.IsCrypto(err) {
		return credentialState{status: statusUndecryptable}
	}
	return credentialState{status: "error: " + err.Error()}
}

func providerLabel(env *cliEnv, providerID string) string {
	if provider, ok := env.cfg.Provider(providerID); ok {
		return provider.DisplayLabel()
	}
	return providerID + " (not configured)"
}

func colorStatus(status string) string {
	switch status {
	case statusLinked:
		return text.FgGreen.Sprint(status)
	case statusExpired, statusNotLinked:
		return text.FgYellow.Sprint(status)
	case statusUndecryptable:
		return text.FgRed.Sprint(status)
	default:
		return text.FgRed.Sprint(status)
	}
}
