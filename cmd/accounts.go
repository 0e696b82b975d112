package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"warden/internal/store"
	pkgstrings "warden/pkg/strings"
)

// accountsCmd represents the accounts command group
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage configured accounts",
	Long: `Manage the accounts warden knows about.

An account pairs an id of your choosing with one of the providers from the
configuration. Linking credentials to an account is done separately with
'warden auth login'.

Examples:
  warden accounts list
  warden accounts add work-chat --provider chat --label "Work chat"
  warden accounts remove work-chat`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <account-id>",
	Short: "Add an account for a configured provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <account-id>",
	Short: "Remove an account and its stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

// Accounts-specific flags
var (
	accountsAddProvider string
	accountsAddLabel    string
	accountsRemoveYes   bool
)

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)

	accountsAddCmd.Flags().StringVar(&accountsAddProvider, "provider", "", "Provider id from the configuration")
	accountsAddCmd.Flags().StringVar(&accountsAddLabel, "label", "", "Human-readable label")
	_ = accountsAddCmd.MarkFlagRequired("provider")

	accountsRemoveCmd.Flags().BoolVarP(&accountsRemoveYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}

	accounts := env.accounts.List()
	if len(accounts) == 0 {
		fmt.Println("No accounts configured.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ACCOUNT", "PROVIDER", "LABEL", "LINKED", "UPDATED", "LAST ERROR"})

	for _, account := range accounts {
		linked := "no"
		if account.Credentials != nil {
			linked = "yes"
		}
		t.AppendRow(table.Row{
			account.ID,
			providerLabel(env, account.ProviderID),
			account.Label,
			linked,
			account.UpdatedAt.Local().Format("2006-01-02 15:04"),
			pkgstrings.Truncate(account.LastError, pkgstrings.DefaultCellWidth),
		})
	}

	t.Render()
	return nil
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	env, err := openEnv()
	if err != nil {
		return err
	}

	provider, ok := env.cfg.Provider(accountsAddProvider)
	if !ok {
		return fmt.Errorf("unknown provider %q; check the providers section of config.yaml", accountsAddProvider)
	}

	label := accountsAddLabel
	if label == "" {
		label = provider.DisplayLabel()
	}

	if err := env.accounts.Add(&store.Account{ID: accountID, ProviderID: provider.ID, Label: label}); err != nil {
		return err
	}

	fmt.Printf("Added account %s for provider %s\n", accountID, provider.DisplayLabel())
	fmt.Printf("Link it with: warden auth login --account %s\n", accountID)
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	env, err := openEnv()
	if err != nil {
		return err
	}

	account, ok := env.accounts.Get(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountID)
	}

	if !accountsRemoveYes {
		if account.Credentials != nil {
			fmt.Printf("Account %s has stored credentials; removing it deletes them.\n", accountID)
		}
		fmt.Printf("Remove account %s? [y/N]: ", accountID)

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := env.accounts.Remove(accountID); err != nil {
		return err
	}

	fmt.Printf("Removed account %s\n", accountID)
	return nil
}
