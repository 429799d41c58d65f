package voting

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
)

type scriptedProvider struct {
	outputs []string
	errs    []error
	calls   int
}

func (s *scriptedProvider) Model() string { return "scripted-model" }

func (s *scriptedProvider) Generate(ctx context.Context, prompt string, opts provider.Options) (provider.Result, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return provider.Result{}, s.errs[i]
	}
	if i >= len(s.outputs) {
		return provider.Result{Content: s.outputs[len(s.outputs)-1], Model: "scripted-model"}, nil
	}
	return provider.Result{Content: s.outputs[i], Model: "scripted-model"}, nil
}

func noFlagger(t *testing.T) *redflag.Flagger {
	t.Helper()
	f, err := redflag.New(redflag.Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f
}

func TestRunStopsAtLeadByK(t *testing.T) {
	sp := &scriptedProvider{outputs: []string{"A", "B", "A", "A"}}
	e := New(sp, noFlagger(t))

	winner, summary, err := e.Run(context.Background(), "prompt", provider.Options{}, Config{
		K:              2,
		InitialSamples: 2,
		MaxSamples:     10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.Output != "A" {
		t.Errorf("expected winner A, got %q", winner.Output)
	}
	want := Summary{
		TotalSamples: 4,
		ClusterVotes: []int{3, 1},
		WinnerVotes:  3,
		Resolved:     true,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("unexpected summary (-want +got):\n%s", diff)
	}
}

func TestRunFallsBackToPluralityAtMaxSamples(t *testing.T) {
	sp := &scriptedProvider{outputs: []string{"A", "B", "A", "B", "A"}}
	e := New(sp, noFlagger(t))

	winner, summary, err := e.Run(context.Background(), "prompt", provider.Options{}, Config{
		K:              5,
		InitialSamples: 2,
		MaxSamples:     5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.Output != "A" {
		t.Errorf("expected plurality winner A, got %q", winner.Output)
	}
	want := Summary{
		TotalSamples: 5,
		ClusterVotes: []int{3, 2},
		WinnerVotes:  3,
		Resolved:     false,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("unexpected summary (-want +got):\n%s", diff)
	}
}

func TestRunFlagsExcludedFromVoting(t *testing.T) {
	sp := &scriptedProvider{outputs: []string{
		"I cannot help with that request.",
		"valid output one",
		"valid output one",
	}}
	e := New(sp, noFlagger(t))

	winner, summary, err := e.Run(context.Background(), "prompt", provider.Options{}, Config{
		K:              2,
		InitialSamples: 2,
		MaxSamples:     10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.Output != "valid output one" {
		t.Errorf("expected the non-flagged output to win, got %q", winner.Output)
	}
	if summary.FlaggedSamples != 1 {
		t.Errorf("expected 1 flagged sample, got %d", summary.FlaggedSamples)
	}
}

func TestRunAllCandidatesFlaggedReturnsError(t *testing.T) {
	sp := &scriptedProvider{outputs: []string{
		"I cannot help with that request.",
		"I cannot help with that request.",
	}}
	e := New(sp, noFlagger(t))

	_, _, err := e.Run(context.Background(), "prompt", provider.Options{}, Config{
		K:              1,
		InitialSamples: 1,
		MaxSamples:     2,
	})
	if !errors.Is(err, ErrNoViableCandidates) {
		t.Fatalf("expected ErrNoViableCandidates, got %v", err)
	}
}

func TestRunGenerationErrorsAreSkipped(t *testing.T) {
	sp := &scriptedProvider{
		outputs: []string{"", "A", "A"},
		errs:    []error{errors.New("boom"), nil, nil},
	}
	e := New(sp, noFlagger(t))

	winner, summary, err := e.Run(context.Background(), "prompt", provider.Options{}, Config{
		K:              2,
		InitialSamples: 2,
		MaxSamples:     10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.Output != "A" {
		t.Errorf("expected winner A, got %q", winner.Output)
	}
	if summary.FlaggedSamples != 1 {
		t.Errorf("expected 1 sample counted against the generation error, got %d", summary.FlaggedSamples)
	}
}

func TestTemperatureScheduleClampsToLastEntry(t *testing.T) {
	got := temperatureAt([]float64{0.2, 0.5, 0.9}, 10)
	if got != 0.9 {
		t.Errorf("expected clamped temperature 0.9, got %v", got)
	}
}

func TestTemperatureScheduleEmptyDefaultsTo07(t *testing.T) {
	got := temperatureAt(nil, 0)
	if got != 0.7 {
		t.Errorf("expected default temperature 0.7, got %v", got)
	}
}
