package schema

import "time"

// ExecutionStatus is the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "completed_success"
	ExecutionFailure ExecutionStatus = "completed_failure"
	ExecutionError   ExecutionStatus = "error"
)

// Terminal reports whether the status is final. "running" is never a final
// observable state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailure || s == ExecutionError
}

// Execution is one run of a workflow from its initial step to a terminal
// outcome. Created and mutated only by the engine during one run, then frozen.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowName    string          `json:"workflow_name,omitempty"`
	CurrentStepID   string          `json:"current_step_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Context         map[string]any  `json:"context,omitempty"`
	FailureMessage  string          `json:"failure_message,omitempty"`
	FailureStepName string          `json:"failure_step_name,omitempty"`
	Error           string          `json:"error,omitempty"`
	Initiator       string          `json:"initiator,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// StepExecution is one append-only row per step visited during a run. No row
// may be added once the owning execution is terminal.
type StepExecution struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name,omitempty"`
	LeftValue   string         `json:"left_value"`
	RightValue  string         `json:"right_value,omitempty"`
	Result      bool           `json:"result"`
	Action      ActionType     `json:"action"`
	ActionData  map[string]any `json:"action_data,omitempty"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
}
