package schema

import "time"

// Operation is the comparison applied between a step's left and right expressions.
type Operation string

const (
	OpEqual           Operation = "=="
	OpNotEqual        Operation = "!="
	OpGreater         Operation = ">"
	OpLess            Operation = "<"
	OpGreaterEqual    Operation = ">="
	OpLessEqual       Operation = "<="
	OpIn              Operation = "in"
	OpNotIn           Operation = "not_in"
	OpInContain       Operation = "in_contain"
	OpNotInContain    Operation = "not_in_contain"
	OpInStartsWith    Operation = "in_starts_with"
	OpNotInStartsWith Operation = "not_in_starts_with"
	OpContains        Operation = "contains"
	OpStartsWith      Operation = "starts_with"
	OpEndsWith        Operation = "ends_with"
	OpBetween         Operation = "between"
	OpIsNull          Operation = "is_null"
	OpIsNotNull       Operation = "is_not_null"
)

// Operations lists every operation in the closed enum.
var Operations = []Operation{
	OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual,
	OpIn, OpNotIn, OpInContain, OpNotInContain, OpInStartsWith, OpNotInStartsWith,
	OpContains, OpStartsWith, OpEndsWith, OpBetween, OpIsNull, OpIsNotNull,
}

// Valid reports whether op is a member of the closed operation enum.
func (op Operation) Valid() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// TakesSequence reports whether the operation's right side is parsed as a
// literal sequence rather than evaluated as a scalar.
func (op Operation) TakesSequence() bool {
	switch op {
	case OpIn, OpNotIn, OpInContain, OpNotInContain, OpInStartsWith, OpNotInStartsWith, OpBetween:
		return true
	}
	return false
}

// IgnoresRight reports whether the operation ignores the right expression entirely.
func (op Operation) IgnoresRight() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// ActionType is the instruction attached to a step branch.
type ActionType string

const (
	ActionProceed         ActionType = "proceed_to_step"
	ActionProceedByID     ActionType = "proceed_to_step_by_id"
	ActionCompleteSuccess ActionType = "complete_success"
	ActionCompleteFailure ActionType = "complete_failure"

	// ActionError is only ever recorded on a step-execution row when the step
	// itself failed; it is not a valid authored action.
	ActionError ActionType = "error"
)

// KnownAction reports whether a is one of the four authorable action tokens.
func KnownAction(a ActionType) bool {
	switch a {
	case ActionProceed, ActionProceedByID, ActionCompleteSuccess, ActionCompleteFailure:
		return true
	}
	return false
}

// Step is the smallest authored validation unit: one condition plus two branch
// actions. Steps exist independently of any workflow and are read-only to the
// engine.
type Step struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Order           int            `json:"order"`
	LeftExpression  string         `json:"left_expression"`
	Operation       Operation      `json:"operation"`
	RightExpression string         `json:"right_expression,omitempty"`
	TrueAction      ActionType     `json:"true_action"`
	TrueActionData  map[string]any `json:"true_action_data,omitempty"`
	FalseAction     ActionType     `json:"false_action"`
	FalseActionData map[string]any `json:"false_action_data,omitempty"`
	FailureMessage  string         `json:"failure_message,omitempty"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at,omitzero"`
	UpdatedAt       time.Time      `json:"updated_at,omitzero"`
}
