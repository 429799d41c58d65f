package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ultracode-dev/forge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect Forge's effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := config.ExportYAML(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
