// Package commands implements the ButlerDuck CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "butlerduck",
		Short: "ButlerDuck - group chat butler for Telegram",
		Long: `ButlerDuck is a Telegram group chat butler. It follows the
conversation, answers when addressed, evaluates arithmetic and sets
reminders.

Examples:
  butlerduck serve
  butlerduck serve --config ./config.yaml
  butlerduck config init
  butlerduck config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
