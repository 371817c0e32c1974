package main

import (
	"errors"
	"fmt"
	"os"

	"sensorhub.dev/hub/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	err := root.Execute()
	if err == nil {
		os.Exit(0)
	}

	fmt.Fprintln(os.Stderr, err)

	var configErr *cmd.ConfigError
	if errors.As(err, &configErr) {
		os.Exit(1)
	}
	// Anything else, including cobra's own flag-parsing failures, is an
	// argument parse failure per spec.md section 6.4.
	os.Exit(2)
}
