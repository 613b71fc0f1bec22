package store

import (
	"context"
	"time"

	"github.com/vetgate/vetgate/pkg/schema"
)

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	Limit      int
}

// Store defines the persistence layer contract for authored definitions and
// run history. All implementations must be safe for concurrent use; appends
// for independent runs never block each other.
type Store interface {
	// Steps
	CreateStep(ctx context.Context, step *schema.Step) error
	GetStep(ctx context.Context, id string) (*schema.Step, error)
	UpdateStep(ctx context.Context, step *schema.Step) error
	DeleteStep(ctx context.Context, id string) error
	ListSteps(ctx context.Context) ([]*schema.Step, error)

	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]*schema.Workflow, error)
	ListWorkflowsForPoint(ctx context.Context, code string) ([]*schema.Workflow, error)
	StepsForWorkflow(ctx context.Context, workflowID string) ([]*schema.Step, error)

	// Executions (run history)
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	UpdateExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)
	AppendStepExecution(ctx context.Context, rec *schema.StepExecution) error
	ListStepExecutions(ctx context.Context, executionID string) ([]*schema.StepExecution, error)
	PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
