package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"warden/internal/config"
	"warden/internal/orchestrator"
	"warden/internal/store"
	"warden/internal/vault"
)

// DefaultLoginWaitTimeout is the default timeout for waiting for an
// authentication flow to complete.
const DefaultLoginWaitTimeout = 2 * time.Minute

// cliEnv bundles the long-lived pieces a CLI command works with.
type cliEnv struct {
	cfg      config.Config
	accounts *store.Store
	orch     *orchestrator.Orchestrator
}

// openEnv loads configuration and opens the account store and vault from the
// configured directory. Every auth and accounts subcommand starts here.
func openEnv() (*cliEnv, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	accounts, err := store.Open(store.PathIn(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %w", err)
	}

	env := &cliEnv{
		cfg:      cfg,
		accounts: accounts,
		orch:     orchestrator.New(&cfg, accounts, vault.New()),
	}
	return env, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiryWithDirection formats a time as "in X" or "expired X ago".
func formatExpiryWithDirection(expiresAt time.Time) string {
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	expiredAgo := -remaining
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(expiredAgo))
}
