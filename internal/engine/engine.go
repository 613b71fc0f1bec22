package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vetgate/vetgate/internal/expressions"
	"github.com/vetgate/vetgate/internal/typecheck"
	"github.com/vetgate/vetgate/pkg/schema"
)

// Recorder persists run and step-trail records. Satisfied by the store; a
// NopRecorder is available for embedders that keep no history.
type Recorder interface {
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	UpdateExecution(ctx context.Context, exec *schema.Execution) error
	AppendStepExecution(ctx context.Context, rec *schema.StepExecution) error
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) CreateExecution(context.Context, *schema.Execution) error      { return nil }
func (NopRecorder) UpdateExecution(context.Context, *schema.Execution) error      { return nil }
func (NopRecorder) AppendStepExecution(context.Context, *schema.StepExecution) error { return nil }

// Engine walks a workflow from its initial step to a terminal outcome. It is
// stateless across runs: every Execute call owns its own evaluator state, so
// concurrent runs share only the read-only registries.
type Engine struct {
	sources  expressions.DataSourceCaller
	recorder Recorder
	logger   *slog.Logger
}

// New creates an Engine.
func New(sources expressions.DataSourceCaller, recorder Recorder, logger *slog.Logger) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{sources: sources, recorder: recorder, logger: logger}
}

// stepOutcome is the result of evaluating one step's condition.
type stepOutcome struct {
	leftStr  string
	rightStr string
	result   bool
}

// Execute runs one workflow synchronously. steps is the workflow's step set,
// read-only to the engine. A missing initial step is a configuration error
// raised before any run record is created; every later failure is captured
// into the run's terminal state and step trail rather than escaping.
func (e *Engine) Execute(ctx context.Context, wf *schema.Workflow, steps []*schema.Step, contextData map[string]any, dsParams map[string]map[string]any, initiator string) (*schema.Execution, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	byID := make(map[string]*schema.Step, len(steps))
	var active []*schema.Step
	for _, s := range steps {
		byID[s.ID] = s
		if s.Active {
			active = append(active, s)
		}
	}
	// Display order; ties break by id so traversal is deterministic.
	sort.Slice(active, func(i, j int) bool {
		if active[i].Order != active[j].Order {
			return active[i].Order < active[j].Order
		}
		return active[i].ID < active[j].ID
	})

	initial, ok := byID[wf.InitialStepID]
	if wf.InitialStepID == "" || !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"workflow %q has no initial step", wf.Name).
			WithDetails(map[string]any{"workflow_id": wf.ID, "initial_step_id": wf.InitialStepID})
	}

	snapshot := sanitizeContext(contextData)
	if len(dsParams) > 0 {
		saneParams := make(map[string]any, len(dsParams))
		for name, p := range dsParams {
			saneParams[name] = sanitizeContext(p)
		}
		snapshot["datasource_params"] = saneParams
	}

	now := time.Now().UTC()
	exec := &schema.Execution{
		ID:            uuid.New().String(),
		WorkflowID:    wf.ID,
		WorkflowName:  wf.Name,
		CurrentStepID: initial.ID,
		Status:        schema.ExecutionRunning,
		Context:       snapshot,
		Initiator:     initiator,
		StartedAt:     now,
	}
	if err := e.recorder.CreateExecution(ctx, exec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"create execution: %s", err.Error()).WithCause(err)
	}

	evaluator := expressions.NewEvaluator(e.sources, e.logger)
	current := initial
	var pendingMessage string

	for current != nil && exec.Status == schema.ExecutionRunning {
		outcome, err := e.runStep(ctx, evaluator, current, dsParams)
		if err != nil {
			// The failure is recorded against the offending step; the run
			// converts to error and never continues silently.
			e.appendStep(ctx, exec, &schema.StepExecution{
				StepID:   current.ID,
				StepName: current.Name,
				Action:   schema.ActionError,
				Message:  err.Error(),
			})
			exec.Status = schema.ExecutionError
			exec.Error = err.Error()
			exec.FailureStepName = current.Name
			break
		}

		action := current.TrueAction
		actionData := current.TrueActionData
		if !outcome.result {
			action = current.FalseAction
			actionData = current.FalseActionData
			pendingMessage = failureMessageFor(current, actionData)
		}

		row := &schema.StepExecution{
			StepID:     current.ID,
			StepName:   current.Name,
			LeftValue:  outcome.leftStr,
			RightValue: outcome.rightStr,
			Result:     outcome.result,
			Action:     action,
			ActionData: actionData,
		}
		if !outcome.result && pendingMessage != "" {
			row.Message = pendingMessage
		}
		e.appendStep(ctx, exec, row)

		current = e.applyAction(exec, action, actionData, current, active, byID, pendingMessage)
	}

	// Exhausting the step chain without an explicit terminal action is an
	// implicit pass.
	if exec.Status == schema.ExecutionRunning {
		exec.Status = schema.ExecutionSuccess
	}

	done := time.Now().UTC()
	exec.CompletedAt = &done
	if err := e.recorder.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("finalize execution",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()),
		)
		return exec, schema.NewErrorf(schema.ErrCodeStore,
			"finalize execution: %s", err.Error()).WithCause(err)
	}

	e.logger.Info("execution finished",
		slog.String("execution_id", exec.ID),
		slog.String("workflow", wf.Name),
		slog.String("status", string(exec.Status)),
	)
	return exec, nil
}

// runStep evaluates one step's condition: left expression, right side per the
// operation family, type compatibility, operator semantics. A panic anywhere
// in the evaluation is captured into an error so the run converts to its
// error terminal state instead of unwinding into the host.
func (e *Engine) runStep(ctx context.Context, evaluator *expressions.Evaluator, step *schema.Step, dsParams map[string]map[string]any) (out *stepOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExpression,
				"step %q evaluation panicked: %v", step.Name, rec).WithStep(step.ID)
		}
	}()
	left, err := evaluator.Evaluate(ctx, step.LeftExpression, dsParams)
	if err != nil {
		return nil, err
	}

	op := step.Operation
	var right any
	var rightStr string
	switch {
	case op.IgnoresRight():
		// Null checks ignore the right expression and skip the type checker.
		result := typecheck.IsNull(left)
		if op == schema.OpIsNotNull {
			result = !result
		}
		return &stepOutcome{leftStr: stringify(left), result: result}, nil

	case op.TakesSequence():
		seq := parseSequence(step.RightExpression)
		right = seq
		if b, mErr := json.Marshal(seq); mErr == nil {
			rightStr = string(b)
		} else {
			rightStr = step.RightExpression
		}

	default:
		right, err = evaluator.Evaluate(ctx, step.RightExpression, dsParams)
		if err != nil {
			return nil, err
		}
		rightStr = stringify(right)
	}

	warnings, err := typecheck.Check(left, right, op, step.Name)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		e.logger.Warn("type compatibility", slog.String("detail", w))
	}

	result, err := applyOperation(op, left, right)
	if err != nil {
		return nil, err
	}

	return &stepOutcome{
		leftStr:  stringify(left),
		rightStr: rightStr,
		result:   result,
	}, nil
}

// applyAction advances or terminates the run. Returns the next step, or nil
// when the run reached a terminal state or ran out of steps.
func (e *Engine) applyAction(exec *schema.Execution, action schema.ActionType, actionData map[string]any, current *schema.Step, active []*schema.Step, byID map[string]*schema.Step, pendingMessage string) *schema.Step {
	switch action {
	case schema.ActionProceed:
		next := nextByOrder(active, current)
		if next == nil {
			exec.Status = schema.ExecutionSuccess
			return nil
		}
		exec.CurrentStepID = next.ID
		return next

	case schema.ActionProceedByID:
		targetID, _ := actionData["step_id"].(string)
		target, ok := byID[targetID]
		if targetID == "" || !ok {
			exec.Status = schema.ExecutionError
			exec.Error = schema.NewErrorf(schema.ErrCodeConfiguration,
				"step %q jumps to unknown step %q", current.Name, targetID).Error()
			exec.FailureStepName = current.Name
			return nil
		}
		exec.CurrentStepID = target.ID
		return target

	case schema.ActionCompleteSuccess:
		exec.Status = schema.ExecutionSuccess
		return nil

	case schema.ActionCompleteFailure:
		exec.Status = schema.ExecutionFailure
		exec.FailureMessage = pendingMessage
		exec.FailureStepName = current.Name
		if pendingMessage != "" {
			exec.Context["failure_message"] = pendingMessage
		}
		return nil
	}

	exec.Status = schema.ExecutionError
	exec.Error = schema.NewErrorf(schema.ErrCodeConfiguration,
		"step %q has unknown action %q", current.Name, action).Error()
	exec.FailureStepName = current.Name
	return nil
}

// nextByOrder returns the first active step strictly after current in
// (order, id) ordering, independent of whether current itself is active.
func nextByOrder(active []*schema.Step, current *schema.Step) *schema.Step {
	for _, s := range active {
		if s.Order > current.Order || (s.Order == current.Order && s.ID > current.ID) {
			return s
		}
	}
	return nil
}

// failureMessageFor picks the pending failure message for a false branch:
// actionData "error", then "message", then the step's own failure message.
func failureMessageFor(step *schema.Step, actionData map[string]any) string {
	if msg, ok := actionData["error"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := actionData["message"].(string); ok && msg != "" {
		return msg
	}
	return step.FailureMessage
}

// appendStep stamps and persists one step-trail row. A persistence failure is
// logged but does not abort the run; the trail is best-effort while the run's
// terminal state is authoritative.
func (e *Engine) appendStep(ctx context.Context, exec *schema.Execution, row *schema.StepExecution) {
	row.ID = uuid.New().String()
	row.ExecutionID = exec.ID
	row.CreatedAt = time.Now().UTC()
	if err := e.recorder.AppendStepExecution(ctx, row); err != nil {
		e.logger.Error("append step execution",
			slog.String("execution_id", exec.ID),
			slog.String("step_id", row.StepID),
			slog.String("error", err.Error()),
		)
	}
}
