// Package logging provides warden's structured logging layer on top of the
// standard slog package.
//
// Log entries carry a subsystem identifier so that output from the different
// parts of the application can be filtered and categorized:
//
//   - **Bootstrap**: application initialization and startup
//   - **Config**: configuration loading and validation
//   - **Store**: account record persistence
//   - **Flow**: pending-flow registry operations
//   - **Orchestrator**: authentication flow orchestration
//   - **Daemon**: local API daemon
//
// # Usage
//
//	import "warden/pkg/logging"
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Bootstrap", "warden starting up")
//	logging.Debug("Config", "loaded configuration from %s", configPath)
//	logging.Error("Store", err, "failed to persist account %s", accountID)
//
// Security-sensitive events (master key creation, credential writes, failed
// decrypts) are logged by the vault and callback packages directly through
// slog with a "SECURITY_AUDIT" message prefix so they remain greppable by log
// aggregation tooling regardless of subsystem filtering.
//
// The package is safe for concurrent use; level filtering happens at the
// handler so suppressed messages cost no allocation.
package logging
