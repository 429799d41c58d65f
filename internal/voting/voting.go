// Package voting implements the adaptive first-to-lead-by-k consensus
// algorithm: candidates are sampled one at a time at an escalating
// temperature schedule and clustered by output equivalence; sampling
// stops as soon as one cluster's vote count leads the runner-up by a
// configured margin, or at a hard sample cap, whichever comes first.
package voting

import (
	"context"
	"fmt"

	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/provider"
	"github.com/ultracode-dev/forge/internal/redflag"
)

// Config controls one voting round.
type Config struct {
	// K is the vote-count margin the leading cluster must hold over
	// the runner-up before sampling stops early.
	K int
	// InitialSamples is the minimum number of samples collected before
	// the lead-by-K check is first applied.
	InitialSamples int
	// MaxSamples bounds the total samples drawn regardless of whether
	// a lead has formed; on reaching it, the engine falls back to a
	// plain plurality vote among the clusters collected so far.
	MaxSamples int
	// Temperatures schedules the sampling temperature by sample index.
	// The final value repeats once the schedule is exhausted.
	Temperatures []float64
}

// temperatureAt returns the schedule's temperature for sampleIndex,
// clamping to the last entry once the schedule runs out.
func temperatureAt(schedule []float64, sampleIndex int) float64 {
	if len(schedule) == 0 {
		return 0.7
	}
	if sampleIndex >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[sampleIndex]
}

// cluster groups candidates that produced equivalent output.
type cluster struct {
	key        string
	candidates []forgemodel.Candidate
}

func (c *cluster) votes() int { return len(c.candidates) }

// Summary reports how a voting round was resolved.
type Summary struct {
	TotalSamples   int
	FlaggedSamples int
	ClusterVotes   []int
	WinnerVotes    int
	Resolved       bool // true if the winner was decided by lead-by-K
}

// ErrNoViableCandidates indicates every sample drawn was red-flagged.
var ErrNoViableCandidates = fmt.Errorf("voting: no viable candidates survived red-flag screening")

// Engine runs voting rounds against an executor Provider.
type Engine struct {
	Executor provider.Provider
	Flagger  *redflag.Flagger
}

// New creates an Engine.
func New(executor provider.Provider, flagger *redflag.Flagger) *Engine {
	return &Engine{Executor: executor, Flagger: flagger}
}

// Run samples candidates for prompt until a cluster leads by cfg.K
// votes or cfg.MaxSamples is reached, returning the winning candidate
// and a summary of how the round resolved.
func (e *Engine) Run(ctx context.Context, prompt string, opts provider.Options, cfg Config) (forgemodel.Candidate, Summary, error) {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 1
	}
	if cfg.InitialSamples <= 0 {
		cfg.InitialSamples = 1
	}
	if cfg.InitialSamples > cfg.MaxSamples {
		cfg.InitialSamples = cfg.MaxSamples
	}
	if cfg.K <= 0 {
		cfg.K = 1
	}

	var clusters []*cluster
	byKey := make(map[string]*cluster)
	flaggedCount := 0

	for sampleIndex := 0; sampleIndex < cfg.MaxSamples; sampleIndex++ {
		temp := temperatureAt(cfg.Temperatures, sampleIndex)
		sampleOpts := opts
		sampleOpts.Temperature = &temp

		result, err := e.Executor.Generate(ctx, prompt, sampleOpts)
		if err != nil {
			flaggedCount++
			continue
		}

		var flags []string
		if e.Flagger != nil {
			flags = e.Flagger.Check(result.Content)
		}

		candidate := forgemodel.Candidate{
			Model:       result.Model,
			Output:      result.Content,
			RedFlags:    flags,
			SampleIndex: sampleIndex,
			Temperature: temp,
		}

		if candidate.Flagged() {
			flaggedCount++
			continue
		}

		// Candidates cluster on exact output equality: a whitespace
		// difference is a distinct candidate, not a duplicate.
		key := candidate.Output
		c, ok := byKey[key]
		if !ok {
			c = &cluster{key: key}
			byKey[key] = c
			clusters = append(clusters, c)
		}
		c.candidates = append(c.candidates, candidate)

		totalViable := sampleIndex + 1 - flaggedCount
		if totalViable >= cfg.InitialSamples {
			if leader, runnerUpVotes, ok := leadingCluster(clusters); ok {
				if leader.votes()-runnerUpVotes >= cfg.K {
					return winnerFrom(leader), Summary{
						TotalSamples:   sampleIndex + 1,
						FlaggedSamples: flaggedCount,
						ClusterVotes:   voteCounts(clusters),
						WinnerVotes:    leader.votes(),
						Resolved:       true,
					}, nil
				}
			}
		}
	}

	leader, _, ok := leadingCluster(clusters)
	if !ok {
		return forgemodel.Candidate{}, Summary{
			TotalSamples:   cfg.MaxSamples,
			FlaggedSamples: flaggedCount,
		}, ErrNoViableCandidates
	}

	return winnerFrom(leader), Summary{
		TotalSamples:   cfg.MaxSamples,
		FlaggedSamples: flaggedCount,
		ClusterVotes:   voteCounts(clusters),
		WinnerVotes:    leader.votes(),
		Resolved:       false,
	}, nil
}

// leadingCluster returns the cluster with the most votes and the
// second-highest vote count seen across the rest, used to evaluate
// the lead-by-K stopping condition. ok is false if there are no
// clusters yet.
func leadingCluster(clusters []*cluster) (leader *cluster, runnerUpVotes int, ok bool) {
	if len(clusters) == 0 {
		return nil, 0, false
	}
	leader = clusters[0]
	for _, c := range clusters[1:] {
		if c.votes() > leader.votes() {
			leader = c
		}
	}
	for _, c := range clusters {
		if c == leader {
			continue
		}
		if c.votes() > runnerUpVotes {
			runnerUpVotes = c.votes()
		}
	}
	return leader, runnerUpVotes, true
}

func voteCounts(clusters []*cluster) []int {
	counts := make([]int, len(clusters))
	for i, c := range clusters {
		counts[i] = c.votes()
	}
	return counts
}

func winnerFrom(leader *cluster) forgemodel.Candidate {
	winner := leader.candidates[0]
	winner.VoteCount = leader.votes()
	return winner
}
