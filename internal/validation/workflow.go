package validation

import (
	"fmt"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/internal/expressions"
	"github.com/vetgate/vetgate/internal/points"
	"github.com/vetgate/vetgate/pkg/schema"
)

// Checker performs the authoring-time semantic pass over steps and workflows:
// closed action tokens, resolvable jump targets, a present initial step, and
// datasource references that are registered and allowed at the bound point.
// Rejecting these here means a run never trips over an authoring defect the
// author could have been told about at save time.
type Checker struct {
	sources *datasources.Registry
	points  *points.Registry
}

// NewChecker wires a Checker.
func NewChecker(sources *datasources.Registry, pointReg *points.Registry) *Checker {
	return &Checker{sources: sources, points: pointReg}
}

// ValidateStep checks one step in isolation.
func (c *Checker) ValidateStep(step *schema.Step) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if step == nil {
		result.AddError("step", schema.ErrCodeValidation, "step is nil")
		return result
	}
	path := "step." + step.ID

	if step.Name == "" {
		result.AddError(path+".name", schema.ErrCodeValidation, "step name is empty")
	}
	if step.LeftExpression == "" {
		result.AddError(path+".left_expression", schema.ErrCodeValidation, "left expression is empty")
	}
	if !step.Operation.Valid() {
		result.AddError(path+".operation", schema.ErrCodeValidation,
			fmt.Sprintf("unknown operation %q", step.Operation))
	}
	if step.Operation.TakesSequence() && step.RightExpression == "" {
		result.AddError(path+".right_expression", schema.ErrCodeValidation,
			fmt.Sprintf("operation %q requires a right-side sequence", step.Operation))
	}
	if !step.Operation.IgnoresRight() && !step.Operation.TakesSequence() && step.RightExpression == "" {
		result.AddError(path+".right_expression", schema.ErrCodeValidation,
			fmt.Sprintf("operation %q requires a right expression", step.Operation))
	}

	c.validateAction(path+".true_action", step.TrueAction, step.TrueActionData, result)
	c.validateAction(path+".false_action", step.FalseAction, step.FalseActionData, result)
	return result
}

func (c *Checker) validateAction(path string, action schema.ActionType, data map[string]any, result *schema.ValidationResult) {
	if !schema.KnownAction(action) {
		result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("unknown action %q", action))
		return
	}
	if action == schema.ActionProceedByID {
		id, _ := data["step_id"].(string)
		if id == "" {
			result.AddError(path, schema.ErrCodeValidation,
				"proceed_to_step_by_id requires action data with a step_id")
		}
	}
}

// ValidateWorkflow checks a workflow against its resolved step set. steps is
// the set the store resolved from the workflow's step ids; ids in the
// workflow that resolved to nothing are reported as dangling.
func (c *Checker) ValidateWorkflow(wf *schema.Workflow, steps []*schema.Step) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if wf == nil {
		result.AddError("workflow", schema.ErrCodeValidation, "workflow is nil")
		return result
	}
	path := "workflow." + wf.ID

	if wf.Name == "" {
		result.AddError(path+".name", schema.ErrCodeValidation, "workflow name is empty")
	}
	if !wf.Status.Valid() {
		result.AddError(path+".status", schema.ErrCodeValidation,
			fmt.Sprintf("unknown status %q", wf.Status))
	}

	byID := make(map[string]*schema.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	// Dangling member ids.
	for _, id := range wf.StepIDs {
		if _, ok := byID[id]; !ok {
			result.AddError(path+".step_ids", schema.ErrCodeConfiguration,
				fmt.Sprintf("step %q does not exist", id))
		}
	}

	// Exactly one initial step, and it must be a member.
	switch {
	case wf.InitialStepID == "":
		result.AddError(path+".initial_step_id", schema.ErrCodeConfiguration, "workflow has no initial step")
	case !wf.HasStep(wf.InitialStepID):
		result.AddError(path+".initial_step_id", schema.ErrCodeConfiguration,
			fmt.Sprintf("initial step %q is not a member of the workflow", wf.InitialStepID))
	}

	// Point binding.
	if c.points != nil && wf.ExecutionPointCode != "" && !c.points.Exists(wf.ExecutionPointCode) {
		result.AddError(path+".execution_point_code", schema.ErrCodeConfiguration,
			fmt.Sprintf("execution point %q not registered", wf.ExecutionPointCode))
	}

	ordersSeen := make(map[int]string)
	for _, s := range steps {
		result.Merge(c.ValidateStep(s))
		stepPath := path + ".step." + s.ID

		// Jump targets must land inside this workflow.
		for branch, data := range map[string]map[string]any{
			"true_action":  branchData(s.TrueAction, s.TrueActionData),
			"false_action": branchData(s.FalseAction, s.FalseActionData),
		} {
			if data == nil {
				continue
			}
			if target, _ := data["step_id"].(string); target != "" && !wf.HasStep(target) {
				result.AddError(stepPath+"."+branch, schema.ErrCodeConfiguration,
					fmt.Sprintf("jump target %q is not a member of the workflow", target))
			}
		}

		// Duplicate display order makes proceed_to_step traversal depend on
		// the id tie-break; surface it to the author.
		if s.Active {
			if other, dup := ordersSeen[s.Order]; dup {
				result.AddWarning(stepPath+".order", schema.ErrCodeValidation,
					fmt.Sprintf("display order %d is shared with step %q; traversal ties break by id", s.Order, other))
			} else {
				ordersSeen[s.Order] = s.ID
			}
		}

		c.validateReferences(stepPath, wf.ExecutionPointCode, s, result)
	}

	return result
}

// branchData returns the action data only when the branch is a by-id jump.
func branchData(action schema.ActionType, data map[string]any) map[string]any {
	if action != schema.ActionProceedByID {
		return nil
	}
	if data == nil {
		return map[string]any{}
	}
	return data
}

// validateReferences checks every datasource a step's expressions mention:
// it must be registered, and allowed at the workflow's bound point.
func (c *Checker) validateReferences(stepPath, pointCode string, s *schema.Step, result *schema.ValidationResult) {
	if c.sources == nil {
		return
	}
	refs := expressions.ReferencedDataSources(s.LeftExpression + " " + s.RightExpression)
	for _, name := range refs {
		if !c.sources.Has(name) {
			result.AddError(stepPath, schema.ErrCodeDataSourceNotFound,
				fmt.Sprintf("datasource %q is not registered", name))
			continue
		}
		if c.points != nil && pointCode != "" && c.points.Exists(pointCode) &&
			!c.points.IsDataSourceAllowed(pointCode, name) {
			result.AddError(stepPath, schema.ErrCodeConfiguration,
				fmt.Sprintf("datasource %q is not allowed at execution point %q", name, pointCode))
		}
	}
}
