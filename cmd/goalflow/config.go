package main

import (
	"encoding/json"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/aristath/goalflow/internal/config"
)

var configGlobal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Writes the default configuration to .goalflow/config.json in the
current directory, or to the global config location with --global.
Project config overrides global config, which overrides defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(".goalflow", "config.json")
		if configGlobal {
			path = filepath.Join(xdg.ConfigHome, "goalflow", "config.json")
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configGlobal, "global", false, "Write to the global config location")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
