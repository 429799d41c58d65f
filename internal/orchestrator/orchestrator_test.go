package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ultracode-dev/forge/internal/action"
	"github.com/ultracode-dev/forge/internal/eventbus"
	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/guard"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/store"
	"github.com/ultracode-dev/forge/internal/voting"
)

type scriptedProvider struct {
	content string
	model   string
	err     error
}

func (s *scriptedProvider) Model() string { return s.model }

func (s *scriptedProvider) Generate(ctx context.Context, prompt string, opts provider.Options) (provider.Result, error) {
	if s.err != nil {
		return provider.Result{}, s.err
	}
	return provider.Result{Content: s.content, Model: s.model, Usage: provider.Usage{InputTokens: 10, OutputTokens: 20}}, nil
}

func newTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestOrchestrator(t *testing.T, p provider.Provider) (*Orchestrator, *store.DB, *forgemodel.Feature, *forgemodel.Subtask) {
	t.Helper()

	db := newTestStore(t)
	g, err := guard.New(t.TempDir())
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	flagger, err := redflag.New(redflag.Rules{})
	if err != nil {
		t.Fatalf("new flagger: %v", err)
	}
	bus := eventbus.New()
	exec := action.New(g, nil, false)

	o := New(db, bus, p, flagger, exec, voting.Config{K: 1, InitialSamples: 1, MaxSamples: 1})

	now := time.Now().UTC()
	project := &forgemodel.Project{ID: uuid.New().String(), Name: "proj", FolderPath: t.TempDir(), Status: forgemodel.ProjectActive, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateProject(project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	feature := &forgemodel.Feature{
		ID: uuid.New().String(), ProjectID: project.ID, Name: "Greeter", Description: "say hello",
		Priority: forgemodel.PriorityB, Status: forgemodel.FeatureRunning, DefinitionOfDone: "writes hello.txt",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateFeature(feature); err != nil {
		t.Fatalf("create feature: %v", err)
	}

	subtask := &forgemodel.Subtask{
		ID: uuid.New().String(), FeatureID: feature.ID, Intent: "write hello.txt",
		ApplyType: forgemodel.ApplyWriteFile, ApplyPath: "hello.txt", Status: forgemodel.SubtaskPending,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateSubtask(subtask); err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	return o, db, feature, subtask
}

func TestRunSubtaskAppliesWinningCandidateAndCompletes(t *testing.T) {
	p := &scriptedProvider{content: "hello, world", model: "scripted-1"}
	o, db, feature, subtask := newTestOrchestrator(t, p)

	if err := o.RunSubtask(context.Background(), feature, subtask, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := db.GetSubtask(subtask.ID)
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if got.Status != forgemodel.SubtaskCompleted {
		t.Errorf("expected completed status, got %q", got.Status)
	}
	if got.Error != "" {
		t.Errorf("expected no error, got %q", got.Error)
	}

	events, err := db.ListEventsByProject(feature.ProjectID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var types []forgemodel.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	wantSeq := []forgemodel.EventType{
		forgemodel.EventStepStart,
		forgemodel.EventCandidateGenerated,
		forgemodel.EventVoteSummary,
		forgemodel.EventStepCompleted,
	}
	if len(types) != len(wantSeq) {
		t.Fatalf("expected %d events, got %d: %v", len(wantSeq), len(types), types)
	}
	for i, want := range wantSeq {
		if types[i] != want {
			t.Errorf("event %d: expected %q, got %q", i, want, types[i])
		}
	}
}

func TestRunSubtaskFailsOnProviderError(t *testing.T) {
	p := &scriptedProvider{err: context.DeadlineExceeded}
	o, db, feature, subtask := newTestOrchestrator(t, p)

	err := o.RunSubtask(context.Background(), feature, subtask, 0)
	if err == nil {
		t.Fatal("expected an error")
	}

	got, getErr := db.GetSubtask(subtask.ID)
	if getErr != nil {
		t.Fatalf("get subtask: %v", getErr)
	}
	if got.Status != forgemodel.SubtaskFailed {
		t.Errorf("expected failed status, got %q", got.Status)
	}
	if got.Error == "" {
		t.Error("expected a recorded error message")
	}

	events, _ := db.ListEventsByProject(feature.ProjectID, 0)
	if len(events) == 0 || events[len(events)-1].Type != forgemodel.EventStepError {
		t.Errorf("expected the last event to be step_error, got %+v", events)
	}
}

func TestRunSubtaskFailsOnGuardRejection(t *testing.T) {
	p := &scriptedProvider{content: "nope", model: "scripted-1"}
	o, db, feature, subtask := newTestOrchestrator(t, p)
	subtask.ApplyPath = "../outside.txt"
	if err := db.UpdateSubtask(subtask); err != nil {
		t.Fatalf("update subtask: %v", err)
	}

	if err := o.RunSubtask(context.Background(), feature, subtask, 0); err == nil {
		t.Fatal("expected a guard rejection error")
	}

	got, err := db.GetSubtask(subtask.ID)
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if got.Status != forgemodel.SubtaskFailed {
		t.Errorf("expected failed status, got %q", got.Status)
	}
}

func TestRunSubtaskReportsTokenUsage(t *testing.T) {
	p := &scriptedProvider{content: "hi", model: "scripted-1"}
	o, _, feature, subtask := newTestOrchestrator(t, p)
	accountant := provider.NewUsageAccountant()
	o.Accountant = accountant

	if err := o.RunSubtask(context.Background(), feature, subtask, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := accountant.ProjectTotal(feature.ProjectID)
	if snap.InputTokens == 0 {
		t.Error("expected recorded input tokens")
	}
}
