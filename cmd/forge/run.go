package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ultracode-dev/forge/internal/cmdrunner"
	"github.com/ultracode-dev/forge/internal/eventbus"
	"github.com/ultracode-dev/forge/internal/featuremgr"
	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/store"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Run a project's scheduler until nothing more is runnable",
	Long: `Run drives a planned project's Features to completion: Priority A
Features auto-complete, B and C Features park at human_testing once
their Subtasks finish, awaiting "forge feature approve".

The run loop respects Feature dependencies and the project's configured
concurrency, voting on each Subtask with multiple samples before
applying it. Interrupt with Ctrl-C to stop after the current round of
in-flight Features finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "suppress per-step event output")
}

// shellRunner adapts cmdrunner.Runner, whose methods take a context,
// to action.CommandRunner, which does not — run_cmd actions share the
// run loop's lifetime rather than each getting a bespoke timeout.
type shellRunner struct {
	ctx context.Context
	r   *cmdrunner.Runner
}

func (s shellRunner) RunShell(workDir, command string) ([]byte, error) {
	return s.r.RunShell(s.ctx, workDir, command)
}

func runRun(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	dbPath := store.ProjectDBPath(cwd)
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		dbPath = store.GlobalDBPath()
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening project database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating project database: %w", err)
	}

	project, err := db.GetProject(projectID)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	if project == nil {
		return fmt.Errorf("no project with id %q", projectID)
	}

	bus := eventbus.New()
	sub := bus.Subscribe(0)
	defer sub.Unsubscribe()
	if !runQuiet {
		go printEvents(sub.Events)
	}

	flagger, err := redflag.New(cfg.RedFlag.Rules())
	if err != nil {
		return fmt.Errorf("building red-flag rules: %w", err)
	}

	factory := &provider.Factory{AnthropicConfig: provider.AnthropicConfig{
		APIKey:    cfg.Anthropic.APIKey,
		AWSRegion: cfg.AWS.Region,
	}}

	manager := featuremgr.New(db, bus, factory, flagger, cfg.Voting.Engine())
	if project.ExecutorModel != "" {
		manager.Concurrency = cfg.Defaults.Concurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := cmdrunner.New(cfg.Safety.Policy(), promptApproval)
	manager.Runner = shellRunner{ctx: ctx, r: runner}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		signal.Stop(sigCh)
		color.Yellow("\nstopping after in-flight features finish (ctrl-c again to force)...")
		cancel()
	}()

	if err := manager.RunProject(ctx, project.ID); err != nil {
		return fmt.Errorf("running project: %w", err)
	}

	color.Green("project %s: scheduling loop finished", project.ID)
	return nil
}

// promptApproval asks on stdout/stdin before a medium/high severity
// run_cmd action executes. "auto" policy mode never reaches this
// function; cmdrunner only calls it when a command needs a human.
func promptApproval(ctx context.Context, command string, severity cmdrunner.Severity) (bool, error) {
	color.Yellow("approve %s-severity command? %s [y/N] ", severity, command)
	var reply string
	if _, err := fmt.Scanln(&reply); err != nil && err.Error() != "unexpected newline" {
		return false, nil
	}
	return reply == "y" || reply == "Y", nil
}

func printEvents(events <-chan forgemodel.Event) {
	for e := range events {
		line := fmt.Sprintf("[%s] %s", e.Type, e.ProjectID)
		if e.FeatureID != nil {
			line += " feature=" + *e.FeatureID
		}
		if e.SubtaskID != nil {
			line += " subtask=" + *e.SubtaskID
		}
		switch e.Type {
		case forgemodel.EventStepError, forgemodel.EventFeatureFailed:
			color.Red(line)
		case forgemodel.EventFeatureCompleted, forgemodel.EventFeatureVerified:
			color.Green(line)
		case forgemodel.EventApprovalRequested:
			color.Yellow(line)
		default:
			fmt.Println(line)
		}
	}
}
