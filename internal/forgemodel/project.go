// Package forgemodel defines the entity types shared across Forge's core:
// Projects, Features, Subtasks, Events, Candidates, and usage aggregates.
package forgemodel

import "time"

// ProjectStatus represents the lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectCreated  ProjectStatus = "created"
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Valid reports whether s is a known ProjectStatus.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectCreated, ProjectActive, ProjectArchived:
		return true
	default:
		return false
	}
}

// Project is the top-level unit of work: a described piece of software
// being built inside FolderPath by the feature scheduler.
type Project struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	FolderPath    string        `json:"folder_path"`
	PlannerModel  string        `json:"planner_model"`
	ExecutorModel string        `json:"executor_model"`
	VoteModel     string        `json:"vote_model"`
	ProjectType   string        `json:"project_type"`
	Status        ProjectStatus `json:"status"`
	Bootstrapped  bool          `json:"bootstrapped"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ModelsBound reports whether all three model bindings are non-empty.
// A Project cannot execute until this is true.
func (p *Project) ModelsBound() bool {
	return p.PlannerModel != "" && p.ExecutorModel != "" && p.VoteModel != ""
}
