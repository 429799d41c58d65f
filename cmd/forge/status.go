package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ultracode-dev/forge/internal/config"
	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/store"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show project, feature, and token-usage state",
	Long: `Display the current state of one project, or every project found
in the database if no project-id is given.

Shows:
  - Project status and model bindings
  - Feature status, priority, and dependency ordering
  - Token usage aggregated by role and model

With --watch, status re-renders on a fixed interval instead of
printing once and exiting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "re-render on a fixed interval instead of exiting")
}

func runStatus(cmd *cobra.Command, args []string) error {
	var projectID string
	if len(args) == 1 {
		projectID = args[0]
	}

	if !statusWatch {
		return renderStatus(projectID)
	}

	if err := renderStatus(projectID); err != nil {
		return err
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(fmt.Sprintf("@every %s", config.ReloadInterval), func() {
		fmt.Println()
		if err := renderStatus(projectID); err != nil {
			color.Red("status: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling watch interval: %w", err)
	}
	c.Start()
	defer c.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	return nil
}

func renderStatus(projectID string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	dbPath := store.ProjectDBPath(cwd)
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		dbPath = store.GlobalDBPath()
	}
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		fmt.Println("No project database found. Run 'forge init' to start one.")
		return nil
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	var projects []*forgemodel.Project
	if projectID != "" {
		p, err := db.GetProject(projectID)
		if err != nil {
			return fmt.Errorf("loading project: %w", err)
		}
		if p == nil {
			return fmt.Errorf("no project with id %q", projectID)
		}
		projects = []*forgemodel.Project{p}
	} else {
		projects, err = db.ListProjects(nil)
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}
	}

	if len(projects) == 0 {
		fmt.Println("No projects found. Run 'forge init' to start one.")
		return nil
	}

	for _, p := range projects {
		if err := renderProject(db, p); err != nil {
			return err
		}
	}
	return nil
}

func renderProject(db *store.DB, p *forgemodel.Project) error {
	fmt.Printf("%s (%s) — %s\n", p.Name, p.ID, p.Status)
	fmt.Printf("  folder:    %s\n", p.FolderPath)
	fmt.Printf("  planner:   %s\n", p.PlannerModel)
	fmt.Printf("  executor:  %s\n", p.ExecutorModel)

	features, err := db.ListFeaturesByProject(p.ID)
	if err != nil {
		return fmt.Errorf("listing features: %w", err)
	}
	if len(features) == 0 {
		fmt.Println("  features:  none (run 'forge init' first)")
	} else {
		fmt.Println("  features:")
		for _, f := range features {
			printFeatureLine(f)
		}
	}

	usage, err := db.UsageByProject(p.ID)
	if err != nil {
		return fmt.Errorf("loading usage: %w", err)
	}
	if len(usage) > 0 {
		fmt.Println("  token usage:")
		var total int64
		for _, u := range usage {
			fmt.Printf("    %-12s %-35s %8d tokens (%d calls)\n", u.Role, u.Model, u.TotalTokens(), u.Calls)
			total += u.TotalTokens()
		}
		fmt.Printf("    %-48s %8d tokens\n", "total", total)
	}
	fmt.Println()
	return nil
}

func printFeatureLine(f *forgemodel.Feature) {
	line := fmt.Sprintf("    [%s] %s (%s)", f.Priority, f.Name, f.Status)
	switch f.Status {
	case forgemodel.FeatureFailed:
		color.Red(line)
	case forgemodel.FeatureCompleted, forgemodel.FeatureVerified:
		color.Green(line)
	case forgemodel.FeatureHumanTesting:
		color.Yellow(line)
	default:
		fmt.Println(line)
	}
}
