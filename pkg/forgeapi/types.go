// Package forgeapi is Forge's stable, embeddable surface: a thin
// facade over the internal store/provider/featuremgr packages for
// programs that want to drive Forge as a library rather than through
// the forge CLI.
//
// Type aliases (not copies) are used for the domain entities so a
// caller can pass forgeapi.Feature values straight into lower-level
// internal APIs if it ever needs to, without a conversion step.
package forgeapi

import (
	"github.com/ultracode-dev/forge/internal/forgemodel"
)

type (
	// Project is a described piece of software being built.
	Project = forgemodel.Project
	// Feature is a user-visible capability planned for a Project.
	Feature = forgemodel.Feature
	// Subtask is one orchestrator step within a Feature.
	Subtask = forgemodel.Subtask
	// Event is a single append-only project log entry.
	Event = forgemodel.Event
	// UsageAggregate accumulates token counts for a (role, model) pair.
	UsageAggregate = forgemodel.UsageAggregate
	// Priority determines a Feature's scheduling order and terminal
	// behavior on success.
	Priority = forgemodel.Priority
	// FeatureStatus is a Feature's lifecycle state.
	FeatureStatus = forgemodel.FeatureStatus
)

// Re-exported Priority and FeatureStatus values, so callers need not
// import internal/forgemodel to compare against them.
const (
	PriorityA = forgemodel.PriorityA
	PriorityB = forgemodel.PriorityB
	PriorityC = forgemodel.PriorityC

	FeaturePending      = forgemodel.FeaturePending
	FeatureRunning      = forgemodel.FeatureRunning
	FeatureCompleted    = forgemodel.FeatureCompleted
	FeatureVerified     = forgemodel.FeatureVerified
	FeatureHumanTesting = forgemodel.FeatureHumanTesting
	FeatureFailed       = forgemodel.FeatureFailed
	FeatureBlocked      = forgemodel.FeatureBlocked
	FeaturePaused       = forgemodel.FeaturePaused
)
