package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/autherr"
	"warden/internal/config"
	"warden/internal/orchestrator"
	"warden/internal/store"
)

// Exit codes for CLI commands.
// These follow common conventions so scripts can react to outcomes.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates credentials are required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeFlowFailed indicates an authentication flow was started but did
	// not complete (cancelled, timed out, or rejected by the provider).
	ExitCodeFlowFailed = 3
)

// rootCmd represents the base command for the warden application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Link and manage provider accounts on this machine",
	Long: `warden links accounts at third-party providers to this machine and keeps
their credentials encrypted at rest. It drives browser (PKCE), device-code,
and cookie-session authentication flows, and exposes a local daemon so UI
frontends can drive the same flows.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// configPath is the configuration directory shared by every subcommand.
var configPath string

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles
// subcommands and flags. This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "warden version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	// Missing credentials, an unrefreshable token set, or an unknown
	// account: the caller has to link before whatever it tried can work.
	if errors.Is(err, orchestrator.ErrNoCredentials) ||
		errors.Is(err, orchestrator.ErrNoRefreshToken) ||
		errors.Is(err, store.ErrAccountNotFound) {
		return ExitCodeAuthRequired
	}

	// A flow ran and failed.
	if autherr.IsCancelled(err) || autherr.IsTimeout(err) || autherr.IsProtocol(err) {
		return ExitCodeFlowFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
