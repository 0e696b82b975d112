package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"warden/internal/browser"
	"warden/internal/config"
	"warden/internal/orchestrator"
	"warden/internal/store"
	pkgstrings "warden/pkg/strings"
)

// Login-specific flags
var (
	loginAccount   string
	loginProvider  string
	loginTimeout   time.Duration
	loginNoBrowser bool
	loginAPIKey    string
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Link an account by running its provider's auth flow",
	Long: `Link an account by running the authentication flow its provider uses.

Depending on the provider this opens your browser for an OAuth consent
page (PKCE), shows a device code to enter on another device, or stores a
supplied API key directly. Credentials are encrypted before they are
written to disk.

Examples:
  warden auth login --account work-chat                 # Run the configured flow
  warden auth login --account work-chat --no-browser    # Print the URL instead of opening it
  warden auth login --account ci --api-key sk-live-...  # Link an API key
  warden auth login --account new --provider github     # Create the account, then link it`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginAccount, "account", "", "Account id to link")
	authLoginCmd.Flags().StringVar(&loginProvider, "provider", "", "Provider id; creates the account if it does not exist yet")
	authLoginCmd.Flags().DurationVar(&loginTimeout, "timeout", DefaultLoginWaitTimeout, "How long to wait for the flow to complete")
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	authLoginCmd.Flags().StringVar(&loginAPIKey, "api-key", "", "Link this API key instead of running a flow")
	_ = authLoginCmd.MarkFlagRequired("account")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}

	if err := ensureAccount(env, loginAccount, loginProvider); err != nil {
		return err
	}

	if loginAPIKey != "" {
		if err := env.orch.LinkAPIKey(loginAccount, loginAPIKey); err != nil {
			return err
		}
		authPrint("Linked API key %s to account %s\n", pkgstrings.Redact(loginAPIKey), loginAccount)
		return nil
	}

	start, err := env.orch.StartFlow(cmd.Context(), loginAccount)
	if err != nil {
		return err
	}

	switch start.Kind {
	case config.AuthKindPKCE:
		announcePKCE(start)
	case config.AuthKindDeviceCode:
		announceDevice(start)
	}

	result, err := waitForFlow(cmd.Context(), env, start.RequestID)
	if err != nil {
		// The flow is already gone; make sure no listener lingers either.
		env.orch.CancelFlow(start.RequestID)
		if !authQuiet {
			fmt.Println(text.FgRed.Sprint("Login failed."))
		}
		return err
	}

	if !authQuiet {
		fmt.Println(text.FgGreen.Sprintf("Linked account %s.", result.AccountID))
		if !result.ExpiresAt.IsZero() {
			fmt.Printf("Credentials expire %s\n", formatExpiryWithDirection(result.ExpiresAt))
		}
	}
	return nil
}

// ensureAccount resolves the target account, creating it when --provider was
// given and the id is new.
func ensureAccount(env *cliEnv, accountID, providerID string) error {
	account, ok := env.accounts.Get(accountID)
	if ok {
		if providerID != "" && account.ProviderID != providerID {
			return fmt.Errorf("account %s belongs to provider %s, not %s", accountID, account.ProviderID, providerID)
		}
		return nil
	}

	if providerID == "" {
		return fmt.Errorf("%w: %s (create it with 'warden accounts add' or pass --provider)", store.ErrAccountNotFound, accountID)
	}
	provider, ok := env.cfg.Provider(providerID)
	if !ok {
		return fmt.Errorf("unknown provider %q", providerID)
	}

	if err := env.accounts.Add(&store.Account{ID: accountID, ProviderID: provider.ID, Label: provider.DisplayLabel()}); err != nil {
		return err
	}
	authPrint("Created account %s for provider %s\n", accountID, provider.DisplayLabel())
	return nil
}

func announcePKCE(start *orchestrator.StartResult) {
	if loginNoBrowser {
		authPrintln("Open this URL in your browser to authorize:")
		authPrintln("  " + start.AuthorizationURL)
		return
	}

	authPrintln("Opening your browser to authorize...")
	if err := browser.Open(start.AuthorizationURL); err != nil {
		authPrintln("Could not open a browser; visit this URL instead:")
		authPrintln("  " + start.AuthorizationURL)
	}
}

func announceDevice(start *orchestrator.StartResult) {
	if !authQuiet {
		fmt.Printf("Visit %s and enter the code: %s\n",
			start.VerificationURI, text.Bold.Sprint(start.UserCode))
		if !start.ExpiresAt.IsZero() {
			fmt.Printf("The code expires %s\n", formatExpiryWithDirection(start.ExpiresAt))
		}
	}

	if !loginNoBrowser {
		// Best effort: the complete URI carries the code pre-filled.
		_ = browser.Open(start.AuthorizationURL)
	}
}

// waitForFlow blocks on the flow result with a spinner while the user works
// through the provider's side of the flow.
func waitForFlow(ctx context.Context, env *cliEnv, requestID string) (*orchestrator.FinishResult, error) {
	var s *spinner.Spinner
	if !authQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for authorization..."
		s.Start()
		defer s.Stop()
	}

	return env.orch.FinishFlow(ctx, requestID, loginTimeout)
}
