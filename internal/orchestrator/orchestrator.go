// Package orchestrator runs a single Subtask end to end: it builds a
// prompt from the Subtask's intent and its Feature's context, runs a
// voting round against a provider, applies the winning candidate to
// the project folder, and records the outcome to the store and the
// event bus at every step.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ultracode-dev/forge/internal/action"
	"github.com/ultracode-dev/forge/internal/eventbus"
	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/paraphrase"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/store"
	"github.com/ultracode-dev/forge/internal/voting"
)

// RoleImplementer is the usage-accounting role name recorded for every
// Generate call a Subtask run makes, mirroring the per-role usage
// breakdown Forge reports alongside per-model totals.
const RoleImplementer = "implementer"

// Orchestrator wires the store, event bus, voting engine, and action
// executor together to carry one Subtask from pending to a terminal
// state. A single Orchestrator is reused across every Subtask run in
// a project; nothing here is per-run state.
type Orchestrator struct {
	Store       *store.DB
	Bus         *eventbus.Bus
	Provider    provider.Provider
	Flagger     *redflag.Flagger
	Action      *action.Executor
	Paraphraser *paraphrase.Paraphraser   // optional
	Accountant  *provider.UsageAccountant // optional
	VotingCfg   voting.Config
}

// New creates an Orchestrator from its required collaborators. Paraphraser
// and Accountant are left nil; set them directly if wanted.
func New(db *store.DB, bus *eventbus.Bus, p provider.Provider, flagger *redflag.Flagger, exec *action.Executor, cfg voting.Config) *Orchestrator {
	return &Orchestrator{
		Store:     db,
		Bus:       bus,
		Provider:  p,
		Flagger:   flagger,
		Action:    exec,
		VotingCfg: cfg,
	}
}

// RunSubtask drives subtask from pending through voting and apply to
// a terminal status, persisting every transition. round identifies
// this Subtask's position for paraphrase-cache purposes; callers
// running Subtasks for the same Feature in sequence should increment
// it each time.
func (o *Orchestrator) RunSubtask(ctx context.Context, feature *forgemodel.Feature, subtask *forgemodel.Subtask, round int) error {
	if err := o.markRunning(subtask); err != nil {
		return err
	}
	o.emit(feature.ProjectID, &feature.ID, &subtask.ID, forgemodel.EventStepStart, map[string]any{
		"intent": subtask.Intent,
	})

	prompt := buildPrompt(feature, subtask)
	exec := &instrumentedProvider{
		inner:       o.Provider,
		paraphraser: o.Paraphraser,
		accountant:  o.Accountant,
		projectID:   feature.ProjectID,
		role:        RoleImplementer,
		round:       round,
	}
	engine := voting.New(exec, o.Flagger)

	candidate, summary, err := engine.Run(ctx, prompt, provider.Options{}, o.VotingCfg)
	if err != nil {
		return o.fail(feature, subtask, fmt.Errorf("orchestrator: voting round: %w", err))
	}

	o.emit(feature.ProjectID, &feature.ID, &subtask.ID, forgemodel.EventCandidateGenerated, map[string]any{
		"model":      candidate.Model,
		"vote_count": candidate.VoteCount,
	})
	o.emit(feature.ProjectID, &feature.ID, &subtask.ID, forgemodel.EventVoteSummary, map[string]any{
		"total_samples":   summary.TotalSamples,
		"flagged_samples": summary.FlaggedSamples,
		"cluster_votes":   summary.ClusterVotes,
		"winner_votes":    summary.WinnerVotes,
		"resolved":        summary.Resolved,
	})

	applied, err := o.Action.Apply(subtask, candidate.Output)
	if err != nil {
		return o.fail(feature, subtask, fmt.Errorf("orchestrator: apply: %w", err))
	}

	now := time.Now().UTC()
	subtask.Status = forgemodel.SubtaskCompleted
	subtask.Result = summarizeApplied(applied)
	subtask.Error = ""
	subtask.UpdatedAt = now
	if err := o.Store.UpdateSubtask(subtask); err != nil {
		return fmt.Errorf("orchestrator: persist completed subtask: %w", err)
	}

	o.emit(feature.ProjectID, &feature.ID, &subtask.ID, forgemodel.EventStepCompleted, map[string]any{
		"result": subtask.Result,
	})
	return nil
}

func (o *Orchestrator) markRunning(subtask *forgemodel.Subtask) error {
	subtask.Status = forgemodel.SubtaskRunning
	subtask.UpdatedAt = time.Now().UTC()
	if err := o.Store.UpdateSubtask(subtask); err != nil {
		return fmt.Errorf("orchestrator: mark subtask running: %w", err)
	}
	return nil
}

func (o *Orchestrator) fail(feature *forgemodel.Feature, subtask *forgemodel.Subtask, cause error) error {
	subtask.Status = forgemodel.SubtaskFailed
	subtask.Error = cause.Error()
	subtask.UpdatedAt = time.Now().UTC()
	if err := o.Store.UpdateSubtask(subtask); err != nil {
		return fmt.Errorf("orchestrator: persist failed subtask: %w (original: %s)", err, cause)
	}
	o.emit(feature.ProjectID, &feature.ID, &subtask.ID, forgemodel.EventStepError, map[string]any{
		"error": cause.Error(),
	})
	return cause
}

// emit records an Event to the store and, if it persisted cleanly,
// fans it out over the bus. A store failure is swallowed rather than
// surfaced to the caller: a missed log entry should not abort an
// otherwise successful Subtask run.
func (o *Orchestrator) emit(projectID string, featureID, subtaskID *string, t forgemodel.EventType, payload map[string]any) {
	encoded, _ := json.Marshal(payload)
	ev := &forgemodel.Event{
		ProjectID: projectID,
		FeatureID: featureID,
		SubtaskID: subtaskID,
		Type:      t,
		Payload:   string(encoded),
		CreatedAt: time.Now().UTC(),
	}
	if o.Store != nil {
		if err := o.Store.RecordEvent(ev); err != nil {
			return
		}
	}
	if o.Bus != nil {
		o.Bus.Publish(*ev)
	}
}

func summarizeApplied(applied []action.AppliedAction) string {
	if len(applied) == 0 {
		return "no actions applied"
	}
	var sb strings.Builder
	for i, a := range applied {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(string(a.Kind))
		if a.Path != "" {
			sb.WriteString(" ")
			sb.WriteString(a.Path)
		}
	}
	return sb.String()
}

func buildPrompt(feature *forgemodel.Feature, subtask *forgemodel.Subtask) string {
	var sb strings.Builder
	sb.WriteString("You are implementing one step of a software feature.\n\n")
	sb.WriteString("Feature: ")
	sb.WriteString(feature.Name)
	sb.WriteString("\n")
	sb.WriteString(feature.Description)
	sb.WriteString("\n\nDefinition of done: ")
	sb.WriteString(feature.DefinitionOfDone)
	sb.WriteString("\n\nThis step: ")
	sb.WriteString(subtask.Intent)
	if subtask.ApplyPath != "" {
		sb.WriteString("\nTarget path: ")
		sb.WriteString(subtask.ApplyPath)
	}
	sb.WriteString("\n\nRespond with only the file content or action payload this step requires, no commentary.\n")
	return sb.String()
}

// instrumentedProvider wraps a provider.Provider to paraphrase each
// prompt before sending it (so repeated samples within a voting round
// don't collapse onto identical wording) and to record token usage
// after each successful call, estimating ceil(len/4) tokens for the
// prompt and the output when the provider reports no usage. Both are
// optional: either field may be
// left nil to skip that behavior.
type instrumentedProvider struct {
	inner       provider.Provider
	paraphraser *paraphrase.Paraphraser
	accountant  *provider.UsageAccountant
	projectID   string
	role        string
	round       int

	mu          sync.Mutex
	sampleIndex int
}

func (p *instrumentedProvider) Model() string { return p.inner.Model() }

func (p *instrumentedProvider) Generate(ctx context.Context, prompt string, opts provider.Options) (provider.Result, error) {
	p.mu.Lock()
	idx := p.sampleIndex
	p.sampleIndex++
	p.mu.Unlock()

	if p.paraphraser != nil {
		prompt = p.paraphraser.Rewrite(ctx, p.round, idx, prompt)
	}

	result, err := p.inner.Generate(ctx, prompt, opts)
	if err == nil && p.accountant != nil {
		usage := result.Usage
		if usage.InputTokens == 0 && usage.OutputTokens == 0 {
			usage.InputTokens = int64((len(prompt) + 3) / 4)
			usage.OutputTokens = int64((len(result.Content) + 3) / 4)
		}
		p.accountant.Record(p.projectID, p.role, result.Model, usage)
	}
	return result, err
}
