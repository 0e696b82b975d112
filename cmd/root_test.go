package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/autherr"
	"warden/internal/orchestrator"
	"warden/internal/store"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "warden" {
		t.Errorf("Expected Use to be 'warden', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "warden version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})

	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	output := buf.String()
	expected := "warden version 1.0.0\n"
	if output != expected {
		t.Errorf("Expected version output %q, got %q", expected, output)
	}
}

func TestSubcommands(t *testing.T) {
	commands := rootCmd.Commands()

	expectedCommands := []string{"version", "self-update", "auth", "accounts", "serve"}
	foundCommands := make(map[string]bool)

	for _, cmd := range commands {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %q to be registered", expected)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "unknown account needs linking",
			err:      fmt.Errorf("%w: ghost", store.ErrAccountNotFound),
			expected: ExitCodeAuthRequired,
		},
		{
			name:     "missing credentials need linking",
			err:      fmt.Errorf("%w for account alice", orchestrator.ErrNoCredentials),
			expected: ExitCodeAuthRequired,
		},
		{
			name:     "unrefreshable token set needs relinking",
			err:      fmt.Errorf("%w for account alice", orchestrator.ErrNoRefreshToken),
			expected: ExitCodeAuthRequired,
		},
		{
			name:     "cancelled flow",
			err:      &autherr.CancelledError{RequestID: "req-1"},
			expected: ExitCodeFlowFailed,
		},
		{
			name:     "timed out flow",
			err:      &autherr.TimeoutError{RequestID: "req-1", Timeout: time.Minute},
			expected: ExitCodeFlowFailed,
		},
		{
			name:     "provider denial",
			err:      &autherr.ProtocolError{Reason: "access_denied"},
			expected: ExitCodeFlowFailed,
		},
		{
			name:     "undecryptable credentials are a general error",
			err:      &autherr.CryptoError{Op: "decrypt credentials"},
			expected: ExitCodeError,
		},
		{
			name:     "store failure",
			err:      &autherr.StoreError{Op: "persist", Err: errors.New("disk full")},
			expected: ExitCodeError,
		},
		{
			name:     "generic error",
			err:      errors.New("boom"),
			expected: ExitCodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.expected {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}
