package core

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestInitializeConfig_DefaultsApplyWhenFlagUnset(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String(FlagLogLevel, "INFO", "")
	cmd.Flags().Int(FlagPort, 8080, "")

	if err := InitializeConfig(cmd); err != nil {
		t.Fatalf("InitializeConfig() error: %v", err)
	}

	if got := Config.GetString(FlagLogLevel); got != "INFO" {
		t.Errorf("log-level default = %q, want INFO", got)
	}
	if got := Config.GetInt(FlagPort); got != 8080 {
		t.Errorf("port default = %d, want 8080", got)
	}
}

func TestInitializeConfig_FlagOverridesDefault(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String(FlagLogLevel, "INFO", "")
	cmd.Flags().Set(FlagLogLevel, "DEBUG")

	if err := InitializeConfig(cmd); err != nil {
		t.Fatalf("InitializeConfig() error: %v", err)
	}
	if got := Config.GetString(FlagLogLevel); got != "DEBUG" {
		t.Errorf("log-level = %q, want DEBUG", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]bool{
		"CRITICAL": true, "ERROR": true, "WARNING": true,
		"INFO": true, "DEBUG": true, "debug": true, "bogus": false,
	}
	for name, ok := range cases {
		_, err := ParseLogLevel(name)
		if (err == nil) != ok {
			t.Errorf("ParseLogLevel(%q) error = %v, want ok=%v", name, err, ok)
		}
	}
}
