package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/songmeo/ButlerDuck/pkg/butler/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `butlerduck config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage butler configuration",
		Long: `Manage the ButlerDuck configuration.

Examples:
  butlerduck config init
  butlerduck config show
  butlerduck config set-key
  butlerduck config set-token`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigSetTokenCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			const path = "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.SaveToFile(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to ./%s\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			// Never print resolved secrets.
			redacted := *cfg
			if redacted.API.APIKey != "" {
				redacted.API.APIKey = "<redacted>"
			}
			if redacted.Telegram.Token != "" {
				redacted.Telegram.Token = "<redacted>"
			}
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			return storeSecret("API key", config.KeyringAPIKey)
		},
	}
}

func newConfigSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token",
		Short: "Store the Telegram bot token in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			return storeSecret("Telegram token", config.KeyringTelegramToken)
		},
	}
}

// storeSecret prompts for a secret without echo and saves it to the keyring.
func storeSecret(label, key string) error {
	if !config.KeyringAvailable() {
		return fmt.Errorf("OS keyring is not available, use environment variables instead")
	}

	fmt.Printf("%s: ", label)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading %s: %w", label, err)
	}
	if len(value) == 0 {
		return fmt.Errorf("%s must not be empty", label)
	}

	return config.MigrateKeyToKeyring(key, string(value), slog.Default())
}
