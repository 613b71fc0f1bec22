package schema

// WorkflowOutcome summarizes one workflow run within a point execution.
type WorkflowOutcome struct {
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	ExecutionID  string          `json:"execution_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Passed       bool            `json:"passed"`
	Message      string          `json:"message,omitempty"`
}

// FailedWorkflow is one flattened rejection entry for reporting to end users.
type FailedWorkflow struct {
	WorkflowName string `json:"workflow_name"`
	StepName     string `json:"step_name,omitempty"`
	Message      string `json:"message"`
}

// PointResult is the consolidated outcome of running every active workflow
// bound to an execution point. Success is false only when the engine itself
// could not run; business rejections keep Success true with AllPassed false.
type PointResult struct {
	Success            bool              `json:"success"`
	AllPassed          bool              `json:"all_passed"`
	Executions         []WorkflowOutcome `json:"executions"`
	FailedWorkflows    []FailedWorkflow  `json:"failed_workflows,omitempty"`
	TotalWorkflows     int               `json:"total_workflows"`
	PassedCount        int               `json:"passed_count"`
	FailedCount        int               `json:"failed_count"`
	Error              string            `json:"error,omitempty"`
	Message            string            `json:"message,omitempty"`
	AllFailureMessages []string          `json:"all_failure_messages,omitempty"`
}

// RequiredDataSource is one datasource referenced by the active workflows of a
// point, with registry metadata merged in when available.
type RequiredDataSource struct {
	DataSourceInfo
	Registered bool   `json:"registered"`
	Warning    string `json:"warning,omitempty"`
}

// RequiredDataSourcesResult is the static-analysis answer for a point: every
// datasource its active workflows reference, plus an example parameter
// skeleton callers can copy.
type RequiredDataSourcesResult struct {
	Success          bool                      `json:"success"`
	DataSources      []RequiredDataSource      `json:"datasources"`
	TotalDataSources int                       `json:"total_datasources"`
	ExampleParams    map[string]map[string]any `json:"example_params,omitempty"`
	Message          string                    `json:"message,omitempty"`
}
