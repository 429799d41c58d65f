// Package planner turns a Project's description into a dependency-
// ordered set of Features, each already broken into Subtasks, using a
// two-stage inspect-then-plan call against a provider.Provider.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/graph"
	"github.com/ultracode-dev/forge/internal/provider"
)

// Inspection is the structured result of the inspect stage: a read of
// the project's current folder contents and an assessment of what
// already exists versus what the description still requires.
type Inspection struct {
	ExistingSummary string   `json:"existing_summary"`
	Gaps            []string `json:"gaps"`
	ProjectType     string   `json:"project_type"`
}

// planFeature and planSubtask are the JSON shapes the plan stage is
// asked to return; they reference each other by title, not ID, since
// the model cannot know the IDs Forge will assign.
type planSubtask struct {
	Intent    string `json:"intent"`
	ApplyType string `json:"apply_type"`
	ApplyPath string `json:"apply_path"`
}

type planFeature struct {
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Priority         string        `json:"priority"`
	DependsOn        []string      `json:"depends_on"`
	DefinitionOfDone string        `json:"definition_of_done"`
	Subtasks         []planSubtask `json:"subtasks"`
}

type planResponse struct {
	Features []planFeature `json:"features"`
}

// Plan is the fully materialized output of the plan stage: Features
// ready for insertion into the store, each paired with its Subtasks.
type Plan struct {
	Features []*forgemodel.Feature
	Subtasks map[string][]*forgemodel.Subtask // keyed by Feature ID
}

// ProgressFunc receives a short human-readable status line as planning
// advances. A nil ProgressFunc disables progress reporting.
type ProgressFunc func(stage, message string)

// Planner runs the inspect-then-plan pipeline against a provider.
type Planner struct {
	Provider   provider.Provider
	OnProgress ProgressFunc
}

// New creates a Planner.
func New(p provider.Provider) *Planner {
	return &Planner{Provider: p}
}

func (p *Planner) report(stage, message string) {
	if p.OnProgress != nil {
		p.OnProgress(stage, message)
	}
}

// Inspect asks the provider to summarize the project's current state
// against its description, given a flat listing of existing files.
func (p *Planner) Inspect(ctx context.Context, description string, existingFiles []string) (*Inspection, error) {
	p.report("inspect", "analyzing project folder")

	prompt := buildInspectPrompt(description, existingFiles)
	result, err := p.Provider.Generate(ctx, prompt, provider.Options{})
	if err != nil {
		return nil, fmt.Errorf("planner: inspect: %w", err)
	}

	var inspection Inspection
	if err := json.Unmarshal([]byte(extractJSONObject(result.Content)), &inspection); err != nil {
		return nil, fmt.Errorf("planner: parse inspection response: %w", err)
	}

	p.report("inspect", fmt.Sprintf("found %d gap(s)", len(inspection.Gaps)))
	return &inspection, nil
}

// Plan asks the provider to decompose description (informed by
// inspection) into dependency-ordered Features and Subtasks scoped to
// projectID, assigning fresh IDs and validating the result is acyclic.
func (p *Planner) Plan(ctx context.Context, projectID, description string, inspection *Inspection) (*Plan, error) {
	p.report("plan", "generating feature breakdown")

	prompt := buildPlanPrompt(description, inspection)
	result, err := p.Provider.Generate(ctx, prompt, provider.Options{})
	if err != nil {
		return nil, fmt.Errorf("planner: plan: %w", err)
	}

	var response planResponse
	if err := json.Unmarshal([]byte(extractJSONArray(result.Content, "features")), &response); err != nil {
		return nil, fmt.Errorf("planner: parse plan response: %w", err)
	}
	if len(response.Features) == 0 {
		return nil, fmt.Errorf("planner: provider returned no features")
	}

	plan, err := materialize(projectID, response)
	if err != nil {
		return nil, err
	}

	if err := validateAcyclic(plan.Features); err != nil {
		return nil, err
	}

	p.report("plan", fmt.Sprintf("produced %d feature(s)", len(plan.Features)))
	return plan, nil
}

func materialize(projectID string, response planResponse) (*Plan, error) {
	now := time.Now().UTC()
	nameToID := make(map[string]string, len(response.Features))
	features := make([]*forgemodel.Feature, 0, len(response.Features))

	for _, pf := range response.Features {
		id := uuid.New().String()
		nameToID[pf.Name] = id
	}

	for i, pf := range response.Features {
		id := nameToID[pf.Name]
		var dependsOn []string
		for _, depName := range pf.DependsOn {
			depID, ok := nameToID[depName]
			if !ok {
				return nil, fmt.Errorf("planner: feature %q depends on unknown feature %q", pf.Name, depName)
			}
			dependsOn = append(dependsOn, depID)
		}

		priority := forgemodel.Priority(strings.ToUpper(pf.Priority))
		if priority != forgemodel.PriorityA && priority != forgemodel.PriorityB && priority != forgemodel.PriorityC {
			priority = forgemodel.PriorityB
		}

		features = append(features, &forgemodel.Feature{
			ID:               id,
			ProjectID:        projectID,
			Name:             pf.Name,
			Description:      pf.Description,
			Priority:         priority,
			Status:           forgemodel.FeaturePending,
			DependsOn:        dependsOn,
			DefinitionOfDone: pf.DefinitionOfDone,
			OrderIndex:       i,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	subtasks := make(map[string][]*forgemodel.Subtask, len(features))
	for i, pf := range response.Features {
		id := features[i].ID
		var subs []*forgemodel.Subtask
		for j, ps := range pf.Subtasks {
			applyType := forgemodel.ApplyType(ps.ApplyType)
			if !applyType.Valid() {
				applyType = forgemodel.ApplyWriteFile
			}
			subs = append(subs, &forgemodel.Subtask{
				ID:         uuid.New().String(),
				FeatureID:  id,
				Intent:     ps.Intent,
				ApplyType:  applyType,
				ApplyPath:  ps.ApplyPath,
				OrderIndex: j,
				Status:     forgemodel.SubtaskPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		subtasks[id] = subs
	}

	return &Plan{Features: features, Subtasks: subtasks}, nil
}

func validateAcyclic(features []*forgemodel.Feature) error {
	g := graph.New()
	return g.Build(features)
}

func buildInspectPrompt(description string, existingFiles []string) string {
	var sb strings.Builder
	sb.WriteString("You are inspecting a software project before planning its implementation.\n\n")
	sb.WriteString("Project description:\n")
	sb.WriteString(description)
	sb.WriteString("\n\nExisting files:\n")
	if len(existingFiles) == 0 {
		sb.WriteString("(none — empty project folder)\n")
	} else {
		for _, f := range existingFiles {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nRespond with ONLY a JSON object (no markdown fences) of the form:\n")
	sb.WriteString(`{"existing_summary": "...", "gaps": ["..."], "project_type": "..."}`)
	sb.WriteString("\n")
	return sb.String()
}

func buildPlanPrompt(description string, inspection *Inspection) string {
	var sb strings.Builder
	sb.WriteString("You are decomposing a software project into features and their implementation steps.\n\n")
	sb.WriteString("Project description:\n")
	sb.WriteString(description)
	sb.WriteString("\n\n")
	if inspection != nil {
		sb.WriteString("Current state:\n")
		sb.WriteString(inspection.ExistingSummary)
		sb.WriteString("\n\nGaps to address:\n")
		for _, g := range inspection.Gaps {
			sb.WriteString("- ")
			sb.WriteString(g)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Respond with ONLY a JSON object (no markdown fences) of the form:\n")
	sb.WriteString(`{"features": [{"name": "...", "description": "...", "priority": "A|B|C", ` +
		`"depends_on": ["other feature name"], "definition_of_done": "...", ` +
		`"subtasks": [{"intent": "...", "apply_type": "writeFile|appendFile|editFile|actions", "apply_path": "..."}]}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// extractJSONObject returns the span of s from its first "{" to its
// last "}", or s unchanged if there is no such span — letting json.Unmarshal surface a clear
// parse error rather than this function guessing wrong.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}

// extractJSONArray is like extractJSONObject but tolerates a response
// that is a bare JSON array instead of an object wrapping key.
func extractJSONArray(s, key string) string {
	obj := extractJSONObject(s)
	if strings.Contains(obj, key) {
		return obj
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end <= start {
		return obj
	}
	return fmt.Sprintf(`{%q: %s}`, key, s[start:end+1])
}
