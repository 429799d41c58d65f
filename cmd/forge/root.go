package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultracode-dev/forge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Spec-to-running-code orchestrator",
	Long: `Forge turns a project description into a dependency-ordered set
of Features and Subtasks, then drives them to completion with a pool of
LLM-backed workers voting on each step before it is applied to disk.

Core capabilities:
- Plans a description into a Feature/Subtask dependency graph
- Runs Features concurrently, respecting dependencies and priority
- Has each Subtask voted on by multiple samples before applying it
- Screens candidates for red flags before they ever touch the folder
- Parks lower-priority Features for human approval once complete

Available commands:
  init       Plan a new project from a description
  run        Run a project's scheduler until nothing more is runnable
  status     Show project, feature, and token-usage state
  feature    Approve, reject, or list a project's Features
  config     Inspect Forge's effective configuration
  version    Show version information

Use "forge [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (overrides XDG/project discovery)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(featureCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves configuration per --config if set, otherwise via
// the normal XDG/project/env layering.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
