package forgemodel

import "time"

// Priority determines a Feature's scheduling order and its terminal
// behavior on success: A auto-completes, B/C park at human_testing.
type Priority string

const (
	PriorityA Priority = "A"
	PriorityB Priority = "B"
	PriorityC Priority = "C"
)

// Rank returns a sortable rank for priority ordering (A < B < C).
func (p Priority) Rank() int {
	switch p {
	case PriorityA:
		return 0
	case PriorityB:
		return 1
	case PriorityC:
		return 2
	default:
		return 3
	}
}

// FeatureStatus represents the current lifecycle state of a Feature.
type FeatureStatus string

const (
	FeaturePending      FeatureStatus = "pending"
	FeatureRunning      FeatureStatus = "running"
	FeaturePaused       FeatureStatus = "paused"
	FeatureBlocked      FeatureStatus = "blocked"
	FeatureFailed       FeatureStatus = "failed"
	FeatureCompleted    FeatureStatus = "completed"
	FeatureVerified     FeatureStatus = "verified"
	FeatureHumanTesting FeatureStatus = "human_testing"
)

// Valid reports whether s is a known FeatureStatus.
func (s FeatureStatus) Valid() bool {
	switch s {
	case FeaturePending, FeatureRunning, FeaturePaused, FeatureBlocked,
		FeatureFailed, FeatureCompleted, FeatureVerified, FeatureHumanTesting:
		return true
	default:
		return false
	}
}

// DependencySatisfied returns true if a dependency's status counts as met
// for readiness purposes: completed or verified.
func (s FeatureStatus) DependencySatisfied() bool {
	return s == FeatureCompleted || s == FeatureVerified
}

// Feature is a user-visible capability to be built, decomposed into
// Subtasks by the FeaturePlanner and advanced by the FeatureManager.
type Feature struct {
	ID               string        `json:"id"`
	ProjectID        string        `json:"project_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Priority         Priority      `json:"priority"`
	Status           FeatureStatus `json:"status"`
	DependsOn        []string      `json:"depends_on"`
	DefinitionOfDone string        `json:"definition_of_done"`
	TechnicalSummary string        `json:"technical_summary,omitempty"`
	OrderIndex       int           `json:"order_index"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
