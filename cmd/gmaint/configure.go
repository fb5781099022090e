package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/config"
)

var (
	configureSave string
	configureShow bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store the graph store password in the OS keychain",
	Long: `Prompt for the graph store password and save it in the OS keychain, keyed by
store URI. Pipelines should set PDBpass instead.

--save writes the effective configuration (without passwords) to a YAML file.
--show prints where the password currently comes from.`,
	Example: `  gmaint configure
  gmaint configure --save ~/.graphmaint/config.yaml
  gmaint configure --show`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureSave, "save", "", "write the effective config to this file")
	configureCmd.Flags().BoolVar(&configureShow, "show", false, "show the password source and exit")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	if configureShow {
		src := config.NewKeyringManager().StorePasswordSource(cfg)
		fmt.Printf("🔐 Store: %s\n", cfg.Store.URI)
		fmt.Printf("  Password source: %s\n", src.Source)
		if cfg.Store.Password != "" {
			fmt.Printf("  Password: %s\n", config.MaskSecret(cfg.Store.Password))
		}
		if src.Recommended != "" {
			fmt.Printf("  %s\n", src.Recommended)
		}
		return nil
	}

	cm := config.NewCredentialManager()
	if !cm.Mode().AllowsInteractivePrompts() {
		return fmt.Errorf("configure needs an interactive terminal; set PDBpass in %s mode", cm.Mode())
	}

	if _, err := cm.PromptStorePassword(cfg.Store.URI); err != nil {
		return err
	}
	fmt.Printf("✅ Password for %s saved to the keychain\n", cfg.Store.URI)

	if configureSave != "" {
		path, err := filepath.Abs(configureSave)
		if err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("✅ Configuration written to %s\n", path)
	}
	return nil
}
