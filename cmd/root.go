package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sensorhub.dev/hub/internal/core"
)

// NewRootCommand builds the daemon's single entry point. Unlike the
// teacher's multi-command SSH tunnel manager, sensorhub has one long-running
// mode (serve), so the root command itself carries the serve flags and
// RunE rather than delegating to a subcommand.
func NewRootCommand() *cobra.Command {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:           "sensorhub",
		Short:         "Push-style sensor/actuator state hub and rule engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.InitializeConfig(cmd); err != nil {
				return err
			}
			return setupLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), core.FormatVersion(core.Version))
				return nil
			}
			return runServe()
		},
	}

	flags := rootCmd.Flags()
	flags.StringP(core.FlagAddress, "a", "0.0.0.0", "listen address")
	flags.IntP(core.FlagPort, "p", 8080, "listen port")
	flags.StringP(core.FlagConfigFile, "c", "sensorhub.yaml", "sensor graph config file")
	flags.StringP(core.FlagConfigDir, "d", ".", "config base directory, joined with -c when -c is relative")
	flags.BoolP(core.FlagTemplating, "j", false, "render the config file as a Go template before parsing")
	flags.StringP(core.FlagLogLevel, "l", "INFO", "log level: CRITICAL, ERROR, WARNING, INFO, DEBUG")
	flags.BoolP(core.FlagVerbose, "v", false, "verbose: implies DEBUG and turns off config file watching (log records are never echoed to /logs)")
	flags.BoolVarP(&showVersion, "version", "V", false, "print version and exit")

	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

func setupLogger() error {
	level, err := core.ParseLogLevel(core.Config.GetString(core.FlagLogLevel))
	if err != nil {
		return err
	}
	if core.Config.GetBool(core.FlagVerbose) {
		level = slog.LevelDebug
	}

	w := os.Stderr
	var handler slog.Handler
	if term.IsTerminal(int(w.Fd())) {
		handler = tint.NewHandler(w, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
