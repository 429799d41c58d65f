package provider

import (
	"sync"
)

// priceTable holds per-million-token USD prices, keyed by model name.
// Looked up on a best-effort basis; an unlisted model falls back to
// the sonnet rate as a conservative estimate.
var priceTable = map[string]struct{ inputPerM, outputPerM float64 }{
	"claude-opus-4-1-20250805":   {15.0, 75.0},
	"claude-opus-4-5-20251101":   {15.0, 75.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-3-7-sonnet-20250219": {3.0, 15.0},
	"claude-haiku-4-5-20251001":  {0.8, 4.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},
}

const defaultInputPerM = 3.0
const defaultOutputPerM = 15.0

func priceFor(model string) (inputPerM, outputPerM float64) {
	if p, ok := priceTable[model]; ok {
		return p.inputPerM, p.outputPerM
	}
	return defaultInputPerM, defaultOutputPerM
}

// key identifies one (project, role, model) accounting bucket.
type key struct {
	projectID string
	role      string
	model     string
}

// entry accumulates raw token counts for one key.
type entry struct {
	inputTokens  int64
	outputTokens int64
	calls        int64
}

// UsageAccountant aggregates token usage per (project, role, model)
// across every provider call made during a project's lifetime.
type UsageAccountant struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// NewUsageAccountant creates an empty UsageAccountant.
func NewUsageAccountant() *UsageAccountant {
	return &UsageAccountant{entries: make(map[key]*entry)}
}

// Record folds one provider call's usage into the (projectID, role,
// model) bucket.
func (a *UsageAccountant) Record(projectID, role, model string, usage Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{projectID: projectID, role: role, model: model}
	e, ok := a.entries[k]
	if !ok {
		e = &entry{}
		a.entries[k] = e
	}
	e.inputTokens += usage.InputTokens
	e.outputTokens += usage.OutputTokens
	e.calls++
}

// Snapshot is one aggregated row as reported by Totals.
type Snapshot struct {
	ProjectID    string
	Role         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Calls        int64
	EstimatedUSD float64
}

// Totals returns one Snapshot per recorded (project, role, model)
// bucket, with cost estimated from the static price table.
func (a *UsageAccountant) Totals() []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(a.entries))
	for k, e := range a.entries {
		inPerM, outPerM := priceFor(k.model)
		cost := float64(e.inputTokens)/1_000_000*inPerM + float64(e.outputTokens)/1_000_000*outPerM
		snapshots = append(snapshots, Snapshot{
			ProjectID:    k.projectID,
			Role:         k.role,
			Model:        k.model,
			InputTokens:  e.inputTokens,
			OutputTokens: e.outputTokens,
			Calls:        e.calls,
			EstimatedUSD: cost,
		})
	}
	return snapshots
}

// ProjectTotal returns the combined token counts and estimated cost
// across every role/model for one project.
func (a *UsageAccountant) ProjectTotal(projectID string) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := Snapshot{ProjectID: projectID}
	for k, e := range a.entries {
		if k.projectID != projectID {
			continue
		}
		inPerM, outPerM := priceFor(k.model)
		total.InputTokens += e.inputTokens
		total.OutputTokens += e.outputTokens
		total.Calls += e.calls
		total.EstimatedUSD += float64(e.inputTokens)/1_000_000*inPerM + float64(e.outputTokens)/1_000_000*outPerM
	}
	return total
}
