// Package config – keyring.go provides secure credential storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (BUTLERDUCK_API_KEY, OPENAI_API_KEY, etc.)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure, plaintext on disk)
package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "butlerduck"

	// KeyringAPIKey is the key name for the LLM API key.
	KeyringAPIKey = "api_key"

	// KeyringTelegramToken is the key name for the bot token.
	KeyringTelegramToken = "telegram_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__butlerduck_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills the API key and Telegram token from the OS keyring
// when the config does not already carry resolved values.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		if val := GetKeyring(KeyringAPIKey); val != "" {
			cfg.API.APIKey = val
			logger.Debug("API key loaded from OS keyring")
		}
	}
	if cfg.Telegram.Token == "" || IsEnvReference(cfg.Telegram.Token) {
		if val := GetKeyring(KeyringTelegramToken); val != "" {
			cfg.Telegram.Token = val
			logger.Debug("telegram token loaded from OS keyring")
		}
	}
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		logger.Warn("no API key found. Set one with: butlerduck config set-key")
	}
}

// MigrateKeyToKeyring moves a secret from config/env to the OS keyring.
func MigrateKeyToKeyring(name, value string, logger *slog.Logger) error {
	if err := StoreKeyring(name, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("secret stored in OS keyring",
		"service", keyringService,
		"key", name,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
