package schema

import "time"

// WorkflowStatus is the lifecycle state of an authored workflow.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusActive, WorkflowStatusInactive, WorkflowStatusDraft, WorkflowStatusArchived:
		return true
	}
	return false
}

// Workflow is a linked set of steps bound to an execution point, with one
// designated entry step. Authored and persisted externally, read-only to the
// engine.
type Workflow struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	ExecutionPointCode string         `json:"execution_point_code"`
	InitialStepID      string         `json:"initial_step_id"`
	StepIDs            []string       `json:"step_ids"`
	Status             WorkflowStatus `json:"status"`
	IsDefault          bool           `json:"is_default"`
	CreatedAt          time.Time      `json:"created_at,omitzero"`
	UpdatedAt          time.Time      `json:"updated_at,omitzero"`
}

// HasStep reports whether id is a member of the workflow's step set.
func (w *Workflow) HasStep(id string) bool {
	for _, s := range w.StepIDs {
		if s == id {
			return true
		}
	}
	return false
}
