package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/vetgate/vetgate/pkg/schema"
)

// stepSchemaJSON is the JSON Schema for authored step records. Embedded as a
// constant to avoid filesystem dependencies.
const stepSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://vetgate.dev/schemas/step.json",
  "type": "object",
  "required": ["id", "name", "left_expression", "operation", "true_action", "false_action"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "order": { "type": "integer" },
    "left_expression": { "type": "string", "minLength": 1 },
    "operation": {
      "type": "string",
      "enum": ["==", "!=", ">", "<", ">=", "<=", "in", "not_in", "in_contain", "not_in_contain", "in_starts_with", "not_in_starts_with", "contains", "starts_with", "ends_with", "between", "is_null", "is_not_null"]
    },
    "right_expression": { "type": "string" },
    "true_action": { "$ref": "#/$defs/action" },
    "true_action_data": { "type": "object" },
    "false_action": { "$ref": "#/$defs/action" },
    "false_action_data": { "type": "object" },
    "failure_message": { "type": "string" },
    "active": { "type": "boolean" },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "action": {
      "type": "string",
      "enum": ["proceed_to_step", "proceed_to_step_by_id", "complete_success", "complete_failure"]
    }
  }
}`

// workflowSchemaJSON is the JSON Schema for authored workflow records.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://vetgate.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "name", "execution_point_code", "initial_step_id", "step_ids"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "execution_point_code": { "type": "string", "minLength": 1 },
    "initial_step_id": { "type": "string", "minLength": 1 },
    "step_ids": {
      "type": "array",
      "minItems": 1,
      "items": { "type": "string", "minLength": 1 }
    },
    "status": {
      "type": "string",
      "enum": ["active", "inactive", "draft", "archived"]
    },
    "is_default": { "type": "boolean" },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false
}`

// RecordValidator validates raw authored records against the JSON Schemas
// before they are decoded. Safe for concurrent use after construction.
type RecordValidator struct {
	stepSchema     *jsonschema.Schema
	workflowSchema *jsonschema.Schema
}

// NewRecordValidator compiles the step and workflow schemas.
func NewRecordValidator() (*RecordValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compile := func(id, raw string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", id, err)
		}
		if err := c.AddResource(id, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", id, err)
		}
		return c.Compile(id)
	}

	stepSchema, err := compile("https://vetgate.dev/schemas/step.json", stepSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile step schema: %w", err)
	}
	workflowSchema, err := compile("https://vetgate.dev/schemas/workflow.json", workflowSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &RecordValidator{stepSchema: stepSchema, workflowSchema: workflowSchema}, nil
}

// ValidateStepRecord checks a decoded step document against the step schema.
func (v *RecordValidator) ValidateStepRecord(doc any) *schema.ValidationResult {
	return validateAgainst(v.stepSchema, doc, "step")
}

// ValidateWorkflowRecord checks a decoded workflow document against the
// workflow schema.
func (v *RecordValidator) ValidateWorkflowRecord(doc any) *schema.ValidationResult {
	return validateAgainst(v.workflowSchema, doc, "workflow")
}

func validateAgainst(s *jsonschema.Schema, doc any, root string) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := s.Validate(doc)
	if err == nil {
		return result
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError(root, schema.ErrCodeValidation, err.Error())
		return result
	}
	for _, issue := range flattenSchemaErrors(ve) {
		path := root
		if loc := strings.Join(issue.InstanceLocation, "."); loc != "" {
			path = root + "." + loc
		}
		result.AddError(path, schema.ErrCodeValidation, issue.Error())
	}
	return result
}

// flattenSchemaErrors collects the leaf causes of a validation error tree.
func flattenSchemaErrors(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var leaves []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		leaves = append(leaves, flattenSchemaErrors(c)...)
	}
	return leaves
}
