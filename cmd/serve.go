package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"warden/internal/config"
	"warden/internal/daemon"
	"warden/internal/orchestrator"
	"warden/internal/store"
	"warden/internal/vault"
	"warden/pkg/logging"
)

// Serve-specific flags
var (
	serveHost     string
	servePort     int
	serveLogLevel string
)

// serveCmd defines the serve command structure.
// It starts the local daemon that UI frontends drive authentication flows
// through.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden daemon on a loopback socket",
	Long: `Starts the warden daemon: a loopback HTTP API that UI frontends use to
start, wait on, and cancel authentication flows, and to list accounts.

The daemon watches the accounts file for edits made by the CLI or by hand
and reloads it automatically. When run under systemd it notifies readiness
and stopping.

The listen address comes from the daemon section of config.yaml
(default 127.0.0.1:7911); --host and --port override it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "Port to bind (overrides config)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// runServe wires the store, vault, orchestrator, and daemon together and
// runs until interrupted.
func runServe(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.ParseLevel(serveLogLevel), os.Stderr)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	accounts, err := store.Open(store.PathIn(configPath))
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}

	// Pick up account edits made while the daemon runs.
	watcher := store.NewWatcher(accounts, store.WatcherConfig{})
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch accounts file: %w", err)
	}
	defer watcher.Stop()

	orch := orchestrator.New(&cfg, accounts, vault.New())

	host := cfg.Daemon.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Daemon.Port
	if servePort >= 0 {
		port = servePort
	}

	server := daemon.New(daemon.Options{
		Host:         host,
		Port:         port,
		Orchestrator: orch,
		Accounts:     accounts,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx)
}
