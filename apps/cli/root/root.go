package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the trazar admin CLI. Subcommands are
// attached here.
var rootCmd = &cobra.Command{
	Use:           "trazar",
	Short:         "Trazar admin CLI",
	Long:          "Administrative utilities for Trazar (schema bootstrap, template seeding).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
