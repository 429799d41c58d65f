// Package featuremgr schedules a Project's Features across a bounded
// pool of concurrent workers: it polls the dependency graph for
// runnable Features, runs each one's Subtasks in order through an
// Orchestrator, and routes the result to completed, failed, or
// human_testing depending on the Feature's Priority.
package featuremgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ultracode-dev/forge/internal/action"
	"github.com/ultracode-dev/forge/internal/eventbus"
	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/guard"
	"github.com/ultracode-dev/forge/internal/orchestrator"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/store"
	"github.com/ultracode-dev/forge/internal/voting"
)

// PollInterval is how long RunProject waits between scheduling passes
// when no Feature is currently runnable but some are still in flight.
const PollInterval = 200 * time.Millisecond

// Manager drives the scheduling loop for any number of Projects. A
// single Manager is shared across a Forge process; per-project state
// (pause flags, in-flight Feature sets) is keyed by ProjectID.
type Manager struct {
	Store       *store.DB
	Bus         *eventbus.Bus
	Factory     *provider.Factory
	Flagger     *redflag.Flagger
	VotingCfg   voting.Config
	Concurrency int

	// Runner executes run_cmd actions. Left nil, Subtasks whose output
	// includes a run_cmd action fail when applied; callers that want
	// shell-command support set this to a cmdrunner.Runner-backed
	// adapter before calling RunProject.
	Runner action.CommandRunner

	providerGroup singleflight.Group
	providers     sync.Map // spec string -> provider.Provider, memoized across calls

	mu           sync.Mutex
	pausers      map[string]*pauseController
	featureCtrls map[string]*featureControl
}

// New creates a Manager. Concurrency defaults to 4 when left at zero.
func New(db *store.DB, bus *eventbus.Bus, factory *provider.Factory, flagger *redflag.Flagger, cfg voting.Config) *Manager {
	return &Manager{
		Store:        db,
		Bus:          bus,
		Factory:      factory,
		Flagger:      flagger,
		VotingCfg:    cfg,
		Concurrency:  4,
		pausers:      make(map[string]*pauseController),
		featureCtrls: make(map[string]*featureControl),
	}
}

func (m *Manager) pauseCtrlFor(projectID string) *pauseController {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pausers[projectID]
	if !ok {
		p = newPauseController()
		m.pausers[projectID] = p
	}
	return p
}

func (m *Manager) featureCtrlFor(featureID string) *featureControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.featureCtrls[featureID]
	if !ok {
		c = &featureControl{}
		m.featureCtrls[featureID] = c
	}
	return c
}

// Pause stops new Features from starting on projectID. Features
// already running continue to completion.
func (m *Manager) Pause(projectID string) { m.pauseCtrlFor(projectID).Pause() }

// Resume lifts a previously requested Pause.
func (m *Manager) Resume(projectID string) { m.pauseCtrlFor(projectID).Resume() }

// IsPaused reports whether projectID is currently paused.
func (m *Manager) IsPaused(projectID string) bool { return m.pauseCtrlFor(projectID).IsPaused() }

// RequestPause cooperatively pauses featureID: the request takes
// effect at the next subtask boundary inside runFeature, not
// immediately, so a Subtask already applying is never interrupted
// mid-apply.
func (m *Manager) RequestPause(featureID string) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}
	m.featureCtrlFor(featureID).requestPause()
	return nil
}

// Abort has the same cooperative, next-boundary semantics as
// RequestPause, but runFeature records an explicit feature_aborted
// event instead of feature_paused so operators can tell a deliberate
// abort apart from a plain pause.
func (m *Manager) Abort(featureID string) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}
	m.featureCtrlFor(featureID).requestAbort()
	return nil
}

// ResumeFeature re-enters a paused Feature: flipping it back to
// pending makes it eligible for the next RunProject scheduling pass,
// which continues from its first incomplete Subtask since completed
// ones are skipped.
func (m *Manager) ResumeFeature(featureID string) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}
	if feature.Status != forgemodel.FeaturePaused {
		return fmt.Errorf("featuremgr: feature %s is not paused", featureID)
	}
	feature.Status = forgemodel.FeaturePending
	feature.UpdatedAt = time.Now().UTC()
	if err := m.Store.UpdateFeature(feature); err != nil {
		return fmt.Errorf("featuremgr: resume feature: %w", err)
	}
	m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventFeatureResumed, nil)
	return nil
}

// Retry resets a Feature back to pending for a fresh scheduling pass:
// completed Subtasks are left alone (resume-from-failure semantics),
// every other Subtask resets to pending, and the stale technical
// summary is cleared so finishFeature regenerates it once the retry
// succeeds.
func (m *Manager) Retry(featureID string) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}

	subtasks, err := m.Store.ListSubtasksByFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: list subtasks: %w", err)
	}
	for _, s := range subtasks {
		if s.Status == forgemodel.SubtaskCompleted {
			continue
		}
		s.Status = forgemodel.SubtaskPending
		s.Error = ""
		s.UpdatedAt = time.Now().UTC()
		if err := m.Store.UpdateSubtask(s); err != nil {
			return fmt.Errorf("featuremgr: reset subtask %s for retry: %w", s.ID, err)
		}
	}

	feature.Status = forgemodel.FeaturePending
	feature.TechnicalSummary = ""
	feature.UpdatedAt = time.Now().UTC()
	if err := m.Store.UpdateFeature(feature); err != nil {
		return fmt.Errorf("featuremgr: reset feature for retry: %w", err)
	}
	m.featureCtrlFor(featureID).reset()
	return nil
}

// RetrySubtask resets one Subtask to pending and runs it immediately
// against the project's executor provider, without touching its
// sibling Subtasks. Rejected while the parent Feature is actively
// running, since runFeature already owns that Feature's subtask
// sequence. If this was the Feature's last incomplete Subtask, the
// Feature advances to its terminal status same as runFeature would.
func (m *Manager) RetrySubtask(ctx context.Context, subtaskID string) error {
	subtask, err := m.Store.GetSubtask(subtaskID)
	if err != nil {
		return fmt.Errorf("featuremgr: load subtask %s: %w", subtaskID, err)
	}
	if subtask == nil {
		return fmt.Errorf("featuremgr: subtask %s not found", subtaskID)
	}
	feature, err := m.Store.GetFeature(subtask.FeatureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", subtask.FeatureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", subtask.FeatureID)
	}
	if feature.Status == forgemodel.FeatureRunning {
		return fmt.Errorf("featuremgr: feature %s is currently running, cannot retry a subtask", feature.ID)
	}
	project, err := m.Store.GetProject(feature.ProjectID)
	if err != nil {
		return fmt.Errorf("featuremgr: load project %s: %w", feature.ProjectID, err)
	}
	if project == nil {
		return fmt.Errorf("featuremgr: project %s not found", feature.ProjectID)
	}

	subtask.Status = forgemodel.SubtaskPending
	subtask.Error = ""
	subtask.UpdatedAt = time.Now().UTC()
	if err := m.Store.UpdateSubtask(subtask); err != nil {
		return fmt.Errorf("featuremgr: reset subtask for retry: %w", err)
	}

	g, err := guard.New(project.FolderPath)
	if err != nil {
		return fmt.Errorf("featuremgr: build guard: %w", err)
	}
	prov, err := m.providerFor(project.ExecutorModel)
	if err != nil {
		return fmt.Errorf("featuremgr: resolve executor provider: %w", err)
	}
	exec := action.New(g, m.Runner, false)
	orch := orchestrator.New(m.Store, m.Bus, prov, m.Flagger, exec, m.VotingCfg)

	if err := orch.RunSubtask(ctx, feature, subtask, subtask.OrderIndex); err != nil {
		return fmt.Errorf("featuremgr: retry subtask: %w", err)
	}

	subtasks, err := m.Store.ListSubtasksByFeature(feature.ID)
	if err != nil {
		return fmt.Errorf("featuremgr: list subtasks: %w", err)
	}
	for _, s := range subtasks {
		if s.Status != forgemodel.SubtaskCompleted {
			return nil
		}
	}
	return m.finishFeature(feature, subtasks)
}

// providerFor resolves spec to a Provider, memoizing the result so
// repeated Projects or Feature workers sharing a model spec reuse one
// client instead of each paying its construction cost. singleflight
// collapses concurrent first-time builds of the same spec into one
// Factory.Resolve call.
func (m *Manager) providerFor(spec string) (provider.Provider, error) {
	if cached, ok := m.providers.Load(spec); ok {
		return cached.(provider.Provider), nil
	}

	v, err, _ := m.providerGroup.Do(spec, func() (any, error) {
		return m.Factory.Resolve(spec)
	})
	if err != nil {
		return nil, err
	}

	p := v.(provider.Provider)
	m.providers.Store(spec, p)
	return p, nil
}

// RunProject schedules projectID's Features to completion: it resets
// any work left "running" from an unclean prior shutdown, then loops
// scheduling every currently-runnable Feature onto a worker, bounded
// to Concurrency in flight at once, until none remain runnable and
// none are in flight.
func (m *Manager) RunProject(ctx context.Context, projectID string) error {
	project, err := m.Store.GetProject(projectID)
	if err != nil {
		return fmt.Errorf("featuremgr: load project: %w", err)
	}
	if project == nil {
		return fmt.Errorf("featuremgr: project %q not found", projectID)
	}
	if err := m.Store.ValidateDependencies(projectID); err != nil {
		return fmt.Errorf("featuremgr: validate dependencies: %w", err)
	}
	if _, err := m.Store.ResetRunningFeatures(projectID); err != nil {
		return fmt.Errorf("featuremgr: reset running features: %w", err)
	}

	g, err := guard.New(project.FolderPath)
	if err != nil {
		return fmt.Errorf("featuremgr: build guard: %w", err)
	}
	prov, err := m.providerFor(project.ExecutorModel)
	if err != nil {
		return fmt.Errorf("featuremgr: resolve executor provider: %w", err)
	}
	exec := action.New(g, m.Runner, false)
	orch := orchestrator.New(m.Store, m.Bus, prov, m.Flagger, exec, m.VotingCfg)

	pauseCtrl := m.pauseCtrlFor(projectID)

	var inflightMu sync.Mutex
	inflight := make(map[string]bool)

	for {
		if err := pauseCtrl.WaitIfResumed(ctx); err != nil {
			return err
		}

		runnable, err := m.Store.GetNextRunnable(projectID)
		if err != nil {
			return fmt.Errorf("featuremgr: get next runnable: %w", err)
		}

		inflightMu.Lock()
		var toStart []string
		for _, id := range runnable {
			if !inflight[id] {
				toStart = append(toStart, id)
			}
		}
		inflightCount := len(inflight)
		inflightMu.Unlock()

		if len(toStart) == 0 && inflightCount == 0 {
			return nil
		}

		if len(toStart) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(PollInterval):
			}
			continue
		}

		eg, egCtx := errgroup.WithContext(ctx)
		limit := m.Concurrency
		if limit <= 0 {
			limit = 4
		}
		eg.SetLimit(limit)

		for _, featureID := range toStart {
			featureID := featureID
			inflightMu.Lock()
			inflight[featureID] = true
			inflightMu.Unlock()

			eg.Go(func() error {
				defer func() {
					inflightMu.Lock()
					delete(inflight, featureID)
					inflightMu.Unlock()
				}()
				return m.runFeature(egCtx, orch, featureID)
			})
		}

		if err := eg.Wait(); err != nil {
			return err
		}
	}
}

// runFeature runs every Subtask belonging to featureID in order
// through orch, then advances the Feature to its terminal status: A
// priority auto-completes, B/C park at human_testing pending manual
// approval via ApproveFeature/RejectFeature.
func (m *Manager) runFeature(ctx context.Context, orch *orchestrator.Orchestrator, featureID string) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}

	feature.Status = forgemodel.FeatureRunning
	feature.UpdatedAt = time.Now().UTC()
	if err := m.Store.UpdateFeature(feature); err != nil {
		return fmt.Errorf("featuremgr: mark feature running: %w", err)
	}
	m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventFeatureStarted, nil)

	subtasks, err := m.Store.ListSubtasksByFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: list subtasks: %w", err)
	}

	ctrl := m.featureCtrlFor(featureID)

	for round, subtask := range subtasks {
		if stop, aborted := ctrl.consume(); stop {
			feature.Status = forgemodel.FeaturePaused
			feature.UpdatedAt = time.Now().UTC()
			if err := m.Store.UpdateFeature(feature); err != nil {
				return fmt.Errorf("featuremgr: mark feature paused: %w", err)
			}
			if aborted {
				m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventFeatureAborted, nil)
			} else {
				m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventFeaturePaused, nil)
			}
			return nil
		}
		if subtask.Status == forgemodel.SubtaskCompleted {
			continue
		}
		if err := orch.RunSubtask(ctx, feature, subtask, round); err != nil {
			feature.Status = forgemodel.FeatureFailed
			feature.UpdatedAt = time.Now().UTC()
			m.Store.UpdateFeature(feature)
			m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventFeatureFailed, map[string]any{"error": err.Error()})
			return nil
		}
	}

	return m.finishFeature(feature, subtasks)
}

// finishFeature advances a Feature whose Subtasks have all run to its
// terminal status, generating and persisting its technical summary
// first: A priority auto-completes, B/C park at human_testing pending
// manual approval via ApproveFeature/RejectFeature.
func (m *Manager) finishFeature(feature *forgemodel.Feature, subtasks []*forgemodel.Subtask) error {
	feature.TechnicalSummary = buildTechnicalSummary(feature, subtasks)
	feature.UpdatedAt = time.Now().UTC()

	if feature.Priority == forgemodel.PriorityA {
		feature.Status = forgemodel.FeatureCompleted
		if err := m.Store.UpdateFeature(feature); err != nil {
			return fmt.Errorf("featuremgr: mark feature completed: %w", err)
		}
		m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventFeatureCompleted, nil)
		return nil
	}

	feature.Status = forgemodel.FeatureHumanTesting
	if err := m.Store.UpdateFeature(feature); err != nil {
		return fmt.Errorf("featuremgr: mark feature human_testing: %w", err)
	}
	m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventApprovalRequested, nil)
	return nil
}

// buildTechnicalSummary renders a short Markdown summary of a
// finished Feature: its name, how many Subtasks completed out of the
// total, and the distinct files its Subtasks touched.
func buildTechnicalSummary(feature *forgemodel.Feature, subtasks []*forgemodel.Subtask) string {
	completed := 0
	for _, s := range subtasks {
		if s.Status == forgemodel.SubtaskCompleted {
			completed++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** — %d/%d subtasks completed.\n", feature.Name, completed, len(subtasks))

	if files := distinctFilesTouched(subtasks); len(files) > 0 {
		sb.WriteString("\nFiles touched:\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	return sb.String()
}

// distinctFilesTouched collects, in sorted order, every file path a
// Feature's Subtasks wrote to: ApplyPath for single-file apply types,
// and the paths embedded in a multi-action Subtask's "kind path; ..."
// Result summary otherwise.
func distinctFilesTouched(subtasks []*forgemodel.Subtask) []string {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	for _, s := range subtasks {
		if s.ApplyPath != "" {
			add(s.ApplyPath)
			continue
		}
		for _, entry := range strings.Split(s.Result, "; ") {
			fields := strings.Fields(entry)
			if len(fields) == 2 {
				add(fields[1])
			}
		}
	}

	sort.Strings(files)
	return files
}

// ApproveFeature marks a Feature parked at human_testing as verified,
// unblocking any Feature depending on it for the next RunProject pass.
func (m *Manager) ApproveFeature(featureID string) error {
	return m.resolveFeature(featureID, forgemodel.FeatureVerified, true)
}

// RejectFeature marks a Feature parked at human_testing as failed,
// leaving its dependents blocked.
func (m *Manager) RejectFeature(featureID, reason string) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}
	feature.Status = forgemodel.FeatureFailed
	feature.UpdatedAt = time.Now().UTC()
	if err := m.Store.UpdateFeature(feature); err != nil {
		return fmt.Errorf("featuremgr: mark feature failed: %w", err)
	}
	m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventApprovalResolved, map[string]any{
		"approved": false,
		"reason":   reason,
	})
	return nil
}

func (m *Manager) resolveFeature(featureID string, status forgemodel.FeatureStatus, approved bool) error {
	feature, err := m.Store.GetFeature(featureID)
	if err != nil {
		return fmt.Errorf("featuremgr: load feature %s: %w", featureID, err)
	}
	if feature == nil {
		return fmt.Errorf("featuremgr: feature %s not found", featureID)
	}
	feature.Status = status
	feature.UpdatedAt = time.Now().UTC()
	if err := m.Store.UpdateFeature(feature); err != nil {
		return fmt.Errorf("featuremgr: persist feature resolution: %w", err)
	}
	m.emit(feature.ProjectID, &feature.ID, nil, forgemodel.EventApprovalResolved, map[string]any{"approved": approved})
	return nil
}

func (m *Manager) emit(projectID string, featureID, subtaskID *string, t forgemodel.EventType, payload map[string]any) {
	var encoded []byte
	if payload != nil {
		encoded, _ = json.Marshal(payload)
	}
	ev := forgemodel.Event{
		ProjectID: projectID,
		FeatureID: featureID,
		SubtaskID: subtaskID,
		Type:      t,
		Payload:   string(encoded),
		CreatedAt: time.Now().UTC(),
	}
	if m.Store != nil {
		if err := m.Store.RecordEvent(&ev); err != nil {
			return
		}
	}
	if m.Bus != nil {
		m.Bus.Publish(ev)
	}
}
