package main

import (
	"testing"

	"warden/cmd"
)

func TestVersion(t *testing.T) {
	if version != "dev" {
		t.Errorf("Expected default version to be 'dev', got %s", version)
	}
}

func TestVersionInjection(t *testing.T) {
	originalVersion := cmd.GetVersion()
	defer cmd.SetVersion(originalVersion)

	testVersions := []string{"1.0.0", "dev", "v2.1.0-beta"}
	for _, v := range testVersions {
		cmd.SetVersion(v)
		if cmd.GetVersion() != v {
			t.Errorf("Expected injected version %q, got %q", v, cmd.GetVersion())
		}
	}
}
