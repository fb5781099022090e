package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/vfbgraph/graphmaint/internal/errors"
)

// CredentialManager resolves the store password with a priority chain:
// environment → config file → keychain → interactive prompt
type CredentialManager struct {
	mode    DeploymentMode
	keyring *KeyringManager
	in      io.Reader
	out     io.Writer
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager() *CredentialManager {
	return &CredentialManager{
		mode:    DetectMode(),
		keyring: NewKeyringManager(),
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// ResolveStorePassword fills cfg.Store.Password when neither the environment
// nor the config file set it
func (cm *CredentialManager) ResolveStorePassword(cfg *Config) error {
	// 1 & 2. Environment and config file were applied by Load
	if cfg.Store.Password != "" {
		return nil
	}

	// 3. Keychain
	if cm.keyring.IsAvailable() {
		if password, err := cm.keyring.GetStorePassword(cfg.Store.URI); err == nil && password != "" {
			cfg.Store.Password = password
			return nil
		}
	}

	// 4. Interactive prompt (never in the pipeline)
	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Fprintf(cm.out, "\nStore password for %s not found.\n", cfg.Store.URI)
		password, err := cm.PromptStorePassword(cfg.Store.URI)
		if err != nil {
			return err
		}
		cfg.Store.Password = password
		return nil
	}

	return errors.ConfigErrorf(
		"store password for %s not found. Set it via:\n"+
			"  1. Environment variable: export PDBpass=...\n"+
			"  2. Run: gmaint configure (to set up keychain)\n"+
			"  Mode %s reads credentials from %s",
		cfg.Store.URI, cm.mode, cm.mode.ConfigSource())
}

// PromptStorePassword asks for the password of uri and saves it to the keychain when available
func (cm *CredentialManager) PromptStorePassword(uri string) (string, error) {
	fmt.Fprintf(cm.out, "Enter password for %s: ", uri)
	password, err := cm.readSecurely()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh, "failed to read store password")
	}
	if password == "" {
		return "", errors.ConfigErrorf("store password is required")
	}

	if cm.keyring.IsAvailable() {
		if err := cm.keyring.SaveStorePassword(uri, password); err == nil {
			fmt.Fprintln(cm.out, "✓ Saved to keychain")
		}
	} else {
		fmt.Fprintln(cm.out, "Keychain not available; set PDBpass to avoid this prompt")
	}

	return password, nil
}

// readSecurely reads a password from stdin without echoing
func (cm *CredentialManager) readSecurely() (string, error) {
	if f, ok := cm.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cm.out) // New line after password input
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	// Fallback: piped input
	reader := bufio.NewReader(cm.in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped)
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// Mode returns the detected deployment mode
func (cm *CredentialManager) Mode() DeploymentMode {
	return cm.mode
}
