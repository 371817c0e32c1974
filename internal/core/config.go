// Package core holds small cross-cutting helpers shared by the cmd tree:
// build version detection (version.go) and the daemon's flag/environment
// binding (this file).
package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag names double as their viper config keys and, uppercased with
// hyphens folded to underscores, as their environment variable overrides,
// per spec.md section 6.4 ("each flag is overridable by an
// identically-named uppercase environment variable").
const (
	FlagAddress    = "address"
	FlagPort       = "port"
	FlagConfigFile = "config"
	FlagConfigDir  = "dir"
	FlagTemplating = "templating"
	FlagLogLevel   = "log-level"
	FlagVerbose    = "verbose"
)

// Config is the process-wide flag/env store, rebuilt fresh on every
// invocation by InitializeConfig — generalized from the teacher's own
// global *viper.Viper, minus its TOML settings-file layer: this daemon's
// only on-disk document is the YAML sensor graph that internal/config
// parses directly, so there is no second config file to locate or seed.
var Config *viper.Viper

// InitializeConfig builds a fresh viper instance, registers defaults, and
// binds it to cmd's flags so that, for any flag left unset on the command
// line, its uppercase environment variable (LOG_LEVEL for log-level, and
// so on) takes effect before the built-in default does.
func InitializeConfig(cmd *cobra.Command) error {
	Config = viper.New()
	Config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Config.AutomaticEnv()

	Config.SetDefault(FlagAddress, "0.0.0.0")
	Config.SetDefault(FlagPort, 8080)
	Config.SetDefault(FlagConfigFile, "sensorhub.yaml")
	Config.SetDefault(FlagConfigDir, ".")
	Config.SetDefault(FlagTemplating, false)
	Config.SetDefault(FlagLogLevel, "INFO")
	Config.SetDefault(FlagVerbose, false)

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := Config.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("core: binding flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

// ParseLogLevel maps spec.md's named levels onto slog.Level, folding the
// non-standard CRITICAL name onto a level above Error.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(name) {
	case "CRITICAL":
		return slog.LevelError + 4, nil
	case "ERROR":
		return slog.LevelError, nil
	case "WARNING":
		return slog.LevelWarn, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("core: unknown log level %q", name)
	}
}
