package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/planner"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/store"
)

var (
	initForce         bool
	initProjectName   string
	initPlannerModel  string
	initExecutorModel string
	initVoteModel     string
)

var initCmd = &cobra.Command{
	Use:   "init <directory> <description>",
	Short: "Plan a new project from a description",
	Long: `Initialize a directory for use with Forge and plan its first pass
of Features.

This command:
  - Creates the .forge directory and its project database
  - Records a Project row bound to the given description
  - Inspects the directory's existing files
  - Asks the planner model to decompose the description into
    dependency-ordered Features, each broken into Subtasks
  - Persists the resulting Features and Subtasks, ready to run

Examples:
  forge init ./myapp "a REST API for tracking inventory"
  forge init . "add a CSV export endpoint" --force`,
	Args: cobra.ExactArgs(2),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "reinitialize even if already set up")
	initCmd.Flags().StringVar(&initProjectName, "project-name", "", "override the auto-detected project name")
	initCmd.Flags().StringVar(&initPlannerModel, "planner-model", "", "override the configured planner model")
	initCmd.Flags().StringVar(&initExecutorModel, "executor-model", "", "override the configured executor model")
	initCmd.Flags().StringVar(&initVoteModel, "vote-model", "", "override the configured vote model")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir, description := args[0], args[1]

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	forgeDir := filepath.Join(absPath, ".forge")
	if _, err := os.Stat(forgeDir); err == nil && !initForce {
		return fmt.Errorf("%s is already initialized; use --force to replan", absPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name := initProjectName
	if name == "" {
		name = filepath.Base(absPath)
	}
	plannerModel := firstNonEmpty(initPlannerModel, cfg.Defaults.PlannerModel)
	executorModel := firstNonEmpty(initExecutorModel, cfg.Defaults.ExecutorModel)
	voteModel := firstNonEmpty(initVoteModel, cfg.Defaults.ExecutorModel)

	fmt.Printf("Initializing Forge project %q in %s...\n\n", name, absPath)

	db, err := store.OpenProject(absPath)
	if err != nil {
		return fmt.Errorf("opening project database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating project database: %w", err)
	}

	now := time.Now().UTC()
	project := &forgemodel.Project{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   description,
		FolderPath:    absPath,
		PlannerModel:  plannerModel,
		ExecutorModel: executorModel,
		VoteModel:     voteModel,
		ProjectType:   "unknown",
		Status:        forgemodel.ProjectCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.CreateProject(project); err != nil {
		return fmt.Errorf("recording project: %w", err)
	}

	factory := &provider.Factory{AnthropicConfig: provider.AnthropicConfig{
		APIKey:    cfg.Anthropic.APIKey,
		AWSRegion: cfg.AWS.Region,
	}}
	plannerProvider, err := factory.Resolve(plannerModel)
	if err != nil {
		return fmt.Errorf("resolving planner model: %w", err)
	}

	p := planner.New(plannerProvider)
	p.OnProgress = func(stage, message string) {
		color.Cyan("  [%s] %s", stage, message)
	}

	tree := planner.NewFileTreeCache(absPath)
	files, err := tree.Files()
	if err != nil {
		return fmt.Errorf("listing existing files: %w", err)
	}

	ctx := context.Background()
	inspection, err := p.Inspect(ctx, description, files)
	if err != nil {
		return fmt.Errorf("inspecting project: %w", err)
	}
	project.ProjectType = inspection.ProjectType

	plan, err := p.Plan(ctx, project.ID, description, inspection)
	if err != nil {
		return fmt.Errorf("planning features: %w", err)
	}

	for _, f := range plan.Features {
		if err := db.CreateFeature(f); err != nil {
			return fmt.Errorf("recording feature %q: %w", f.Name, err)
		}
		for _, s := range plan.Subtasks[f.ID] {
			if err := db.CreateSubtask(s); err != nil {
				return fmt.Errorf("recording subtask for feature %q: %w", f.Name, err)
			}
		}
	}

	project.Bootstrapped = true
	project.Status = forgemodel.ProjectActive
	project.UpdatedAt = time.Now().UTC()
	if err := db.UpdateProject(project); err != nil {
		return fmt.Errorf("activating project: %w", err)
	}

	fmt.Println()
	color.Green("Planned %d feature(s). Run `forge run %s` to start.", len(plan.Features), project.ID)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
