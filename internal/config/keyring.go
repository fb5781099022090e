package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "graphmaint"

	// keyringAvailabilityProbe is looked up to test keychain access
	keyringAvailabilityProbe = "availability-probe"
)

// KeyringManager handles secure credential storage in OS keychain.
// Store passwords are keyed by store URI so one operator can hold
// credentials for several servers.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

func storePasswordItem(uri string) string {
	return "store-password:" + uri
}

// SaveStorePassword stores the password for uri in the OS keychain
// - macOS: Keychain Access.app → "graphmaint"
// - Windows: Credential Manager → "graphmaint"
// - Linux: Secret Service (requires libsecret)
func (km *KeyringManager) SaveStorePassword(uri, password string) error {
	if password == "" {
		return fmt.Errorf("store password cannot be empty")
	}

	if err := keyring.Set(KeyringService, storePasswordItem(uri), password); err != nil {
		km.logger.Error("failed to save store password to keychain", "uri", uri, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("store password saved to keychain", "service", KeyringService, "uri", uri)
	return nil
}

// GetStorePassword retrieves the password for uri; empty when none is stored
func (km *KeyringManager) GetStorePassword(uri string) (string, error) {
	password, err := keyring.Get(KeyringService, storePasswordItem(uri))
	if err == keyring.ErrNotFound {
		// Not an error - just not set yet
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get store password from keychain", "uri", uri, "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("store password retrieved from keychain", "uri", uri)
	return password, nil
}

// DeleteStorePassword removes the password for uri from OS keychain
func (km *KeyringManager) DeleteStorePassword(uri string) error {
	err := keyring.Delete(KeyringService, storePasswordItem(uri))
	if err == keyring.ErrNotFound {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete store password from keychain", "uri", uri, "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("store password deleted from keychain", "uri", uri)
	return nil
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems (CI/CD) where keychain isn't available
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, keyringAvailabilityProbe)

	// "not found" means the keychain answered
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}

	return true
}

// PasswordSource describes where the store password comes from
type PasswordSource struct {
	Source      string // "env", "keychain", "config", "none"
	Secure      bool
	Recommended string
}

// StorePasswordSource determines where the store password for cfg comes from
func (km *KeyringManager) StorePasswordSource(cfg *Config) PasswordSource {
	for _, key := range []string{"PDBpass", "NEO4J_PASSWORD", "GRAPHMAINT_STORE_PASSWORD"} {
		if os.Getenv(key) != "" {
			return PasswordSource{
				Source:      "env",
				Secure:      true,
				Recommended: fmt.Sprintf("Using %s (good for the load pipeline)", key),
			}
		}
	}

	if password, _ := km.GetStorePassword(cfg.Store.URI); password != "" {
		return PasswordSource{
			Source:      "keychain",
			Secure:      true,
			Recommended: "Stored in OS keychain",
		}
	}

	if cfg.Store.Password != "" {
		return PasswordSource{
			Source:      "config",
			Secure:      false,
			Recommended: "Plaintext password in config file. Run: gmaint configure",
		}
	}

	return PasswordSource{
		Source:      "none",
		Secure:      false,
		Recommended: "No store password configured. Set PDBpass or run: gmaint configure",
	}
}

// MaskSecret masks a secret for display, keeping the first and last two characters
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 8 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:2], secret[len(secret)-2:])
}
