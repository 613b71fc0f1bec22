package points

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/internal/expressions"
	"github.com/vetgate/vetgate/pkg/schema"
)

// Catalog supplies the authored workflows and steps bound to a point.
// Satisfied by the store.
type Catalog interface {
	ListWorkflowsForPoint(ctx context.Context, code string) ([]*schema.Workflow, error)
	StepsForWorkflow(ctx context.Context, workflowID string) ([]*schema.Step, error)
}

// Runner executes one workflow to a terminal outcome. Satisfied by the engine.
type Runner interface {
	Execute(ctx context.Context, wf *schema.Workflow, steps []*schema.Step, contextData map[string]any, dsParams map[string]map[string]any, initiator string) (*schema.Execution, error)
}

// Dispatcher is the externally-facing entry point: it runs every active
// workflow bound to an execution point and consolidates the outcomes.
type Dispatcher struct {
	points  *Registry
	sources *datasources.Registry
	catalog Catalog
	runner  Runner
	logger  *slog.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(points *Registry, sources *datasources.Registry, catalog Catalog, runner Runner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		points:  points,
		sources: sources,
		catalog: catalog,
		runner:  runner,
		logger:  logger,
	}
}

// ExecuteWorkflowsForPoint runs every active workflow bound to code, oldest
// created first, and returns the consolidated result. Success is false only
// when the dispatcher itself could not run: unknown point, catalog failure,
// or missing datasource parameters detected before any workflow starts.
// Business rejections keep Success true with AllPassed false.
func (d *Dispatcher) ExecuteWorkflowsForPoint(ctx context.Context, code string, contextData map[string]any, dsParams map[string]map[string]any, initiator string) *schema.PointResult {
	if !d.points.Exists(code) {
		return &schema.PointResult{
			Success: false,
			Error:   fmt.Sprintf("execution point %q not registered", code),
		}
	}

	workflows, err := d.activeWorkflows(ctx, code)
	if err != nil {
		return &schema.PointResult{Success: false, Error: err.Error()}
	}

	if len(workflows) == 0 {
		return &schema.PointResult{
			Success:   true,
			AllPassed: true,
			Message:   fmt.Sprintf("no workflow configured for execution point %q", code),
		}
	}

	// Fail fast on missing datasources or parameters before any run starts.
	if dsParams != nil {
		if err := d.checkParams(ctx, code, workflows, dsParams); err != nil {
			return &schema.PointResult{Success: false, Error: err.Error()}
		}
	}

	result := &schema.PointResult{
		Success:        true,
		AllPassed:      true,
		TotalWorkflows: len(workflows),
	}

	for _, wf := range workflows {
		outcome, failedStep := d.runWorkflow(ctx, wf, contextData, dsParams, initiator)
		result.Executions = append(result.Executions, outcome)
		if outcome.Passed {
			result.PassedCount++
			continue
		}
		result.AllPassed = false
		result.FailedCount++
		result.FailedWorkflows = append(result.FailedWorkflows, schema.FailedWorkflow{
			WorkflowName: outcome.WorkflowName,
			StepName:     failedStep,
			Message:      outcome.Message,
		})
		if outcome.Status == schema.ExecutionFailure && outcome.Message != "" {
			result.AllFailureMessages = append(result.AllFailureMessages, outcome.Message)
		}
	}

	if result.AllPassed {
		result.Message = fmt.Sprintf("all %d workflows passed", result.TotalWorkflows)
	} else {
		result.Message = fmt.Sprintf("%d of %d workflows failed", result.FailedCount, result.TotalWorkflows)
	}
	return result
}

// runWorkflow executes one workflow, converting every failure mode into an
// outcome entry so one broken workflow never aborts the rest. The second
// return is the name of the step the run failed on, when known.
func (d *Dispatcher) runWorkflow(ctx context.Context, wf *schema.Workflow, contextData map[string]any, dsParams map[string]map[string]any, initiator string) (schema.WorkflowOutcome, string) {
	outcome := schema.WorkflowOutcome{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
	}

	steps, err := d.catalog.StepsForWorkflow(ctx, wf.ID)
	if err == nil {
		var exec *schema.Execution
		exec, err = d.runner.Execute(ctx, wf, steps, contextData, dsParams, initiator)
		if exec != nil {
			outcome.ExecutionID = exec.ID
			outcome.Status = exec.Status
			outcome.Passed = exec.Status == schema.ExecutionSuccess
			switch exec.Status {
			case schema.ExecutionFailure:
				outcome.Message = exec.FailureMessage
			case schema.ExecutionError:
				outcome.Message = exec.Error
			}
			return outcome, exec.FailureStepName
		}
	}

	d.logger.Error("workflow could not run",
		slog.String("workflow_id", wf.ID),
		slog.String("error", err.Error()),
	)
	outcome.Status = schema.ExecutionError
	outcome.Message = err.Error()
	return outcome, ""
}

// RequiredDataSourcesForPoint statically analyzes every active workflow bound
// to code and returns the union of datasources their steps reference, with
// registry metadata and an example parameter skeleton.
func (d *Dispatcher) RequiredDataSourcesForPoint(ctx context.Context, code string) *schema.RequiredDataSourcesResult {
	if !d.points.Exists(code) {
		return &schema.RequiredDataSourcesResult{
			Success: false,
			Message: fmt.Sprintf("execution point %q not registered", code),
		}
	}

	names, err := d.referencedDataSources(ctx, code)
	if err != nil {
		return &schema.RequiredDataSourcesResult{Success: false, Message: err.Error()}
	}

	result := &schema.RequiredDataSourcesResult{
		Success:          true,
		TotalDataSources: len(names),
	}
	for _, name := range names {
		entry := schema.RequiredDataSource{DataSourceInfo: schema.DataSourceInfo{Name: name}}
		if ds, dErr := d.sources.Get(name); dErr == nil {
			entry.DataSourceInfo = ds.Info()
			entry.Registered = true
			if len(entry.Parameters) > 0 {
				if result.ExampleParams == nil {
					result.ExampleParams = make(map[string]map[string]any)
				}
				skeleton := make(map[string]any, len(entry.Parameters))
				for _, p := range entry.Parameters {
					skeleton[p] = "<" + p + ">"
				}
				result.ExampleParams[name] = skeleton
			}
		} else {
			entry.Warning = "datasource is referenced but not registered"
		}
		result.DataSources = append(result.DataSources, entry)
	}
	if len(names) == 0 {
		result.Message = "no datasources referenced"
	}
	return result
}

// activeWorkflows loads the point's workflows oldest first, keeping only the
// active ones.
func (d *Dispatcher) activeWorkflows(ctx context.Context, code string) ([]*schema.Workflow, error) {
	workflows, err := d.catalog.ListWorkflowsForPoint(ctx, code)
	if err != nil {
		return nil, err
	}
	out := workflows[:0]
	for _, wf := range workflows {
		if wf.Status == schema.WorkflowStatusActive {
			out = append(out, wf)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// referencedDataSources unions the datasource names referenced by every step
// of every active workflow, sorted.
func (d *Dispatcher) referencedDataSources(ctx context.Context, code string) ([]string, error) {
	workflows, err := d.activeWorkflows(ctx, code)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, wf := range workflows {
		steps, err := d.catalog.StepsForWorkflow(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range steps {
			for _, name := range expressions.ReferencedDataSources(s.LeftExpression + " " + s.RightExpression) {
				if _, ok := seen[name]; ok {
					continue
				}
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// checkParams cross-checks the supplied per-datasource parameters against the
// point's required datasources. Every referenced datasource must be
// registered and allowed at the point, and each declared parameter must be
// present in the supplied map for that datasource.
func (d *Dispatcher) checkParams(ctx context.Context, code string, workflows []*schema.Workflow, dsParams map[string]map[string]any) error {
	seen := make(map[string]struct{})
	for _, wf := range workflows {
		steps, err := d.catalog.StepsForWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		for _, s := range steps {
			for _, name := range expressions.ReferencedDataSources(s.LeftExpression + " " + s.RightExpression) {
				if _, ok := seen[name]; ok {
					continue
				}
				seen[name] = struct{}{}

				if !d.points.IsDataSourceAllowed(code, name) {
					return schema.NewErrorf(schema.ErrCodeConfiguration,
						"datasource %q is not allowed at execution point %q", name, code)
				}
				ds, err := d.sources.Get(name)
				if err != nil {
					return err
				}
				declared := ds.Info().Parameters
				if len(declared) == 0 {
					continue
				}
				provided, ok := dsParams[name]
				if !ok {
					return schema.NewErrorf(schema.ErrCodeParameter,
						"missing parameters for datasource %q (requires %s)",
						name, strings.Join(declared, ", "))
				}
				var missing []string
				for _, p := range declared {
					if _, ok := provided[p]; !ok {
						missing = append(missing, p)
					}
				}
				if len(missing) > 0 {
					return schema.NewErrorf(schema.ErrCodeParameter,
						"datasource %q missing parameters: %s", name, strings.Join(missing, ", "))
				}
			}
		}
	}
	return nil
}
