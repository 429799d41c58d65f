package forgeapi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ultracode-dev/forge/internal/config"
	"github.com/ultracode-dev/forge/internal/eventbus"
	"github.com/ultracode-dev/forge/internal/featuremgr"
	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/planner"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/store"
)

// Client is an embeddable handle onto one project database. Unlike
// the forge CLI, it builds its own Manager once and reuses it, so a
// long-lived host process (a server, a bot) can plan and run many
// projects without re-resolving providers per call.
type Client struct {
	db      *store.DB
	bus     *eventbus.Bus
	manager *featuremgr.Manager
	cfg     *config.Config
}

// Open opens (creating if needed) the project database at dbPath and
// wires a Manager from cfg. A nil cfg loads the default layered
// configuration (XDG + project + env).
func Open(dbPath string, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("forgeapi: loading config: %w", err)
		}
		cfg = loaded
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("forgeapi: opening database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("forgeapi: migrating database: %w", err)
	}

	flagger, err := redflag.New(cfg.RedFlag.Rules())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("forgeapi: building red-flag rules: %w", err)
	}

	factory := &provider.Factory{AnthropicConfig: provider.AnthropicConfig{
		APIKey:    cfg.Anthropic.APIKey,
		AWSRegion: cfg.AWS.Region,
	}}

	bus := eventbus.New()
	manager := featuremgr.New(db, bus, factory, flagger, cfg.Voting.Engine())
	manager.Concurrency = cfg.Defaults.Concurrency

	return &Client{db: db, bus: bus, manager: manager, cfg: cfg}, nil
}

// Close releases the underlying database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// Subscribe returns a live feed of every Event this Client's projects
// emit. Call Unsubscribe on the returned Subscription when done.
func (c *Client) Subscribe() *eventbus.Subscription {
	return c.bus.Subscribe(0)
}

// PlanProject creates a Project bound to folderPath and description,
// inspects the folder's existing files, and asks the planner model to
// decompose description into dependency-ordered Features and
// Subtasks, persisting all of it before returning.
func (c *Client) PlanProject(ctx context.Context, name, description, folderPath string) (*Project, error) {
	now := time.Now().UTC()
	project := &forgemodel.Project{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   description,
		FolderPath:    folderPath,
		PlannerModel:  c.cfg.Defaults.PlannerModel,
		ExecutorModel: c.cfg.Defaults.ExecutorModel,
		VoteModel:     c.cfg.Defaults.ExecutorModel,
		ProjectType:   "unknown",
		Status:        forgemodel.ProjectCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.db.CreateProject(project); err != nil {
		return nil, fmt.Errorf("forgeapi: recording project: %w", err)
	}

	plannerProvider, err := (&provider.Factory{AnthropicConfig: provider.AnthropicConfig{
		APIKey:    c.cfg.Anthropic.APIKey,
		AWSRegion: c.cfg.AWS.Region,
	}}).Resolve(project.PlannerModel)
	if err != nil {
		return nil, fmt.Errorf("forgeapi: resolving planner model: %w", err)
	}

	tree := planner.NewFileTreeCache(folderPath)
	files, err := tree.Files()
	if err != nil {
		return nil, fmt.Errorf("forgeapi: listing existing files: %w", err)
	}

	p := planner.New(plannerProvider)
	inspection, err := p.Inspect(ctx, description, files)
	if err != nil {
		return nil, fmt.Errorf("forgeapi: inspecting project: %w", err)
	}
	project.ProjectType = inspection.ProjectType

	plan, err := p.Plan(ctx, project.ID, description, inspection)
	if err != nil {
		return nil, fmt.Errorf("forgeapi: planning features: %w", err)
	}
	for _, f := range plan.Features {
		if err := c.db.CreateFeature(f); err != nil {
			return nil, fmt.Errorf("forgeapi: recording feature %q: %w", f.Name, err)
		}
		for _, s := range plan.Subtasks[f.ID] {
			if err := c.db.CreateSubtask(s); err != nil {
				return nil, fmt.Errorf("forgeapi: recording subtask for feature %q: %w", f.Name, err)
			}
		}
	}

	project.Bootstrapped = true
	project.Status = forgemodel.ProjectActive
	project.UpdatedAt = time.Now().UTC()
	if err := c.db.UpdateProject(project); err != nil {
		return nil, fmt.Errorf("forgeapi: activating project: %w", err)
	}
	return project, nil
}

// RunProject drives projectID's scheduling loop until nothing more is
// runnable or ctx is canceled.
func (c *Client) RunProject(ctx context.Context, projectID string) error {
	return c.manager.RunProject(ctx, projectID)
}

// Pause and Resume suspend and continue a running project's scheduling
// loop without canceling it.
func (c *Client) Pause(projectID string)  { c.manager.Pause(projectID) }
func (c *Client) Resume(projectID string) { c.manager.Resume(projectID) }

// ApproveFeature and RejectFeature resolve a Feature parked at
// human_testing.
func (c *Client) ApproveFeature(featureID string) error {
	return c.manager.ApproveFeature(featureID)
}

func (c *Client) RejectFeature(featureID, reason string) error {
	return c.manager.RejectFeature(featureID, reason)
}

// Project, Features, Subtasks, and Usage give read-only access to a
// project's persisted state.
func (c *Client) Project(projectID string) (*Project, error) {
	return c.db.GetProject(projectID)
}

func (c *Client) Features(projectID string) ([]*Feature, error) {
	return c.db.ListFeaturesByProject(projectID)
}

func (c *Client) Subtasks(featureID string) ([]*Subtask, error) {
	return c.db.ListSubtasksByFeature(featureID)
}

func (c *Client) Usage(projectID string) ([]UsageAggregate, error) {
	return c.db.UsageByProject(projectID)
}

// FeatureSummaryHTML renders a Feature's DefinitionOfDone and
// TechnicalSummary as an HTML fragment, for a host UI to display.
// Forge renders the Markdown; it does not serve or style the result.
func (c *Client) FeatureSummaryHTML(featureID string) (string, error) {
	f, err := c.db.GetFeature(featureID)
	if err != nil {
		return "", fmt.Errorf("forgeapi: loading feature: %w", err)
	}
	if f == nil {
		return "", fmt.Errorf("forgeapi: feature %q not found", featureID)
	}
	return store.RenderFeatureSummaryHTML(f)
}
