package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ultracode-dev/forge/internal/eventbus"
	"github.com/ultracode-dev/forge/internal/featuremgr"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/store"
	"github.com/ultracode-dev/forge/internal/voting"
)

var featureRejectReason string

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "List, approve, or reject a project's Features",
}

var featureListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's Features and their status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderStatus(args[0])
	},
}

var featureApproveCmd = &cobra.Command{
	Use:   "approve <feature-id>",
	Short: "Approve a Feature parked at human_testing, marking it verified",
	Long: `Approve moves a Feature from human_testing to verified, the
status downstream Features' dependency checks treat as satisfied.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManagerForCLI()
		if err != nil {
			return err
		}
		if err := manager.ApproveFeature(args[0]); err != nil {
			return fmt.Errorf("approving feature: %w", err)
		}
		color.Green("feature %s: verified", args[0])
		return nil
	},
}

var featureRejectCmd = &cobra.Command{
	Use:   "reject <feature-id>",
	Short: "Reject a Feature parked at human_testing, marking it failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManagerForCLI()
		if err != nil {
			return err
		}
		if err := manager.RejectFeature(args[0], featureRejectReason); err != nil {
			return fmt.Errorf("rejecting feature: %w", err)
		}
		color.Red("feature %s: failed (%s)", args[0], featureRejectReason)
		return nil
	},
}

func init() {
	featureRejectCmd.Flags().StringVar(&featureRejectReason, "reason", "", "why the feature was rejected")
	featureCmd.AddCommand(featureListCmd)
	featureCmd.AddCommand(featureApproveCmd)
	featureCmd.AddCommand(featureRejectCmd)
}

// openManagerForCLI builds a Manager just sturdy enough to resolve and
// persist an approve/reject decision. It never calls RunProject, so
// its Factory/Flagger/VotingCfg are left at zero value: those only
// matter once Subtasks are actually executed.
func openManagerForCLI() (*featuremgr.Manager, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	dbPath := store.ProjectDBPath(cwd)
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		dbPath = store.GlobalDBPath()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	flagger, _ := redflag.New(redflag.Rules{})
	return featuremgr.New(db, eventbus.New(), &provider.Factory{}, flagger, voting.Config{}), nil
}
