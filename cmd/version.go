package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sensorhub.dev/hub/internal/core"
)

// NewVersionCommand prints the build version, mirroring the root command's
// -V/--version flag for callers that prefer a subcommand.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(os.Stdout, core.FormatVersion(core.Version))
		},
	}
}
