package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/vetgate/vetgate/internal/expressions"
	"github.com/vetgate/vetgate/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Steps ---

// CreateStep persists a step. Expressions are normalized to the internal
// datasource:Name token form at this boundary; authoring surfaces convert
// back to {{Name}} on the way out.
func (s *LibSQLStore) CreateStep(ctx context.Context, step *schema.Step) error {
	trueData, err := mapJSON(step.TrueActionData)
	if err != nil {
		return fmt.Errorf("marshal true_action_data: %w", err)
	}
	falseData, err := mapJSON(step.FalseActionData)
	if err != nil {
		return fmt.Errorf("marshal false_action_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (id, name, description, display_order, left_expression, operation, right_expression,
		 true_action, true_action_data, false_action, false_action_data, failure_message, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.Name, nullStr(step.Description), step.Order,
		expressions.ToInternal(step.LeftExpression), string(step.Operation),
		nullStr(expressions.ToInternal(step.RightExpression)),
		string(step.TrueAction), trueData, string(step.FalseAction), falseData,
		nullStr(step.FailureMessage), step.Active,
		timeOrNow(step.CreatedAt), timeOrNow(step.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetStep(ctx context.Context, id string) (*schema.Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, display_order, left_expression, operation, right_expression,
		 true_action, true_action_data, false_action, false_action_data, failure_message, active, created_at, updated_at
		 FROM steps WHERE id = ?`, id)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step", id)
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (s *LibSQLStore) UpdateStep(ctx context.Context, step *schema.Step) error {
	trueData, err := mapJSON(step.TrueActionData)
	if err != nil {
		return fmt.Errorf("marshal true_action_data: %w", err)
	}
	falseData, err := mapJSON(step.FalseActionData)
	if err != nil {
		return fmt.Errorf("marshal false_action_data: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET name = ?, description = ?, display_order = ?, left_expression = ?, operation = ?,
		 right_expression = ?, true_action = ?, true_action_data = ?, false_action = ?, false_action_data = ?,
		 failure_message = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		step.Name, nullStr(step.Description), step.Order,
		expressions.ToInternal(step.LeftExpression), string(step.Operation),
		nullStr(expressions.ToInternal(step.RightExpression)),
		string(step.TrueAction), trueData, string(step.FalseAction), falseData,
		nullStr(step.FailureMessage), step.Active, step.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step", step.ID)
}

func (s *LibSQLStore) DeleteStep(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM steps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step", id)
}

func (s *LibSQLStore) ListSteps(ctx context.Context) ([]*schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, display_order, left_expression, operation, right_expression,
		 true_action, true_action_data, false_action, false_action_data, failure_message, active, created_at, updated_at
		 FROM steps ORDER BY display_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*schema.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	stepIDs, err := json.Marshal(wf.StepIDs)
	if err != nil {
		return fmt.Errorf("marshal step_ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, execution_point_code, initial_step_id, step_ids, status, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), wf.ExecutionPointCode, wf.InitialStepID,
		string(stepIDs), string(wf.Status), wf.IsDefault,
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, execution_point_code, initial_step_id, step_ids, status, is_default, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	stepIDs, err := json.Marshal(wf.StepIDs)
	if err != nil {
		return fmt.Errorf("marshal step_ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, description = ?, execution_point_code = ?, initial_step_id = ?,
		 step_ids = ?, status = ?, is_default = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		wf.Name, nullStr(wf.Description), wf.ExecutionPointCode, wf.InitialStepID,
		string(stepIDs), string(wf.Status), wf.IsDefault, wf.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*schema.Workflow, error) {
	return s.queryWorkflows(ctx,
		`SELECT id, name, description, execution_point_code, initial_step_id, step_ids, status, is_default, created_at, updated_at
		 FROM workflows ORDER BY created_at, id`)
}

// ListWorkflowsForPoint returns the workflows bound to an execution point,
// oldest created first. All statuses are included; callers filter.
func (s *LibSQLStore) ListWorkflowsForPoint(ctx context.Context, code string) ([]*schema.Workflow, error) {
	return s.queryWorkflows(ctx,
		`SELECT id, name, description, execution_point_code, initial_step_id, step_ids, status, is_default, created_at, updated_at
		 FROM workflows WHERE execution_point_code = ? ORDER BY created_at, id`, code)
}

// StepsForWorkflow resolves a workflow's step-id set into step records.
// Dangling ids are skipped silently; the validation pass reports them.
func (s *LibSQLStore) StepsForWorkflow(ctx context.Context, workflowID string) ([]*schema.Step, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(wf.StepIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(wf.StepIDs)), ", ")
	args := make([]any, len(wf.StepIDs))
	for i, id := range wf.StepIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, display_order, left_expression, operation, right_expression,
		 true_action, true_action_data, false_action, false_action_data, failure_message, active, created_at, updated_at
		 FROM steps WHERE id IN (`+placeholders+`) ORDER BY display_order, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*schema.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *LibSQLStore) queryWorkflows(ctx context.Context, query string, args ...any) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	contextJSON, err := mapJSON(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, workflow_name, current_step_id, status, context,
		 failure_message, failure_step_name, error, initiator, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, nullStr(exec.WorkflowName), nullStr(exec.CurrentStepID),
		string(exec.Status), contextJSON, nullStr(exec.FailureMessage), nullStr(exec.FailureStepName),
		nullStr(exec.Error), nullStr(exec.Initiator), timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, exec *schema.Execution) error {
	contextJSON, err := mapJSON(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET current_step_id = ?, status = ?, context = ?, failure_message = ?,
		 failure_step_name = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		nullStr(exec.CurrentStepID), string(exec.Status), contextJSON, nullStr(exec.FailureMessage),
		nullStr(exec.FailureStepName), nullStr(exec.Error), nullTime(exec.CompletedAt), exec.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", exec.ID)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, workflow_name, current_step_id, status, context,
		 failure_message, failure_step_name, error, initiator, started_at, completed_at
		 FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	query := `SELECT id, workflow_id, workflow_name, current_step_id, status, context,
		 failure_message, failure_step_name, error, initiator, started_at, completed_at
		 FROM executions`
	var conds []string
	var args []any
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// AppendStepExecution inserts one step-trail row. The trail is append-only
// and frozen with its owning run: appending to a terminal execution fails
// with a conflict.
func (s *LibSQLStore) AppendStepExecution(ctx context.Context, rec *schema.StepExecution) error {
	actionData, err := mapJSON(rec.ActionData)
	if err != nil {
		return fmt.Errorf("marshal action_data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, rec.ExecutionID).Scan(&status)
	if err == sql.ErrNoRows {
		return storeNotFound("execution", rec.ExecutionID)
	}
	if err != nil {
		return err
	}
	if schema.ExecutionStatus(status).Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is terminal (%s); step trail is frozen", rec.ExecutionID, status)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO step_executions (id, execution_id, step_id, step_name, left_value, right_value, result, action, action_data, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ExecutionID, rec.StepID, nullStr(rec.StepName),
		nullStr(rec.LeftValue), nullStr(rec.RightValue), rec.Result,
		string(rec.Action), actionData, nullStr(rec.Message), timeOrNow(rec.CreatedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListStepExecutions(ctx context.Context, executionID string) ([]*schema.StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_id, step_name, left_value, right_value, result, action, action_data, message, created_at
		 FROM step_executions WHERE execution_id = ? ORDER BY created_at, id`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*schema.StepExecution
	for rows.Next() {
		rec := &schema.StepExecution{}
		var stepName, leftVal, rightVal, actionData, message sql.NullString
		var action string
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &rec.StepID, &stepName, &leftVal, &rightVal,
			&rec.Result, &action, &actionData, &message, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.StepName = stepName.String
		rec.LeftValue = leftVal.String
		rec.RightValue = rightVal.String
		rec.Action = schema.ActionType(action)
		rec.ActionData = jsonMap(actionData)
		rec.Message = message.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PurgeExecutionsBefore deletes terminal executions completed before cutoff.
// Step trails go with them via the FK cascade. Returns the number of
// executions removed.
func (s *LibSQLStore) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?`,
		string(schema.ExecutionRunning), cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Row scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*schema.Step, error) {
	step := &schema.Step{}
	var description, rightExpr, trueData, falseData, failureMsg sql.NullString
	var operation, trueAction, falseAction string
	if err := row.Scan(&step.ID, &step.Name, &description, &step.Order, &step.LeftExpression,
		&operation, &rightExpr, &trueAction, &trueData, &falseAction, &falseData,
		&failureMsg, &step.Active, &step.CreatedAt, &step.UpdatedAt); err != nil {
		return nil, err
	}
	step.Description = description.String
	step.Operation = schema.Operation(operation)
	step.RightExpression = rightExpr.String
	step.TrueAction = schema.ActionType(trueAction)
	step.TrueActionData = jsonMap(trueData)
	step.FalseAction = schema.ActionType(falseAction)
	step.FalseActionData = jsonMap(falseData)
	step.FailureMessage = failureMsg.String
	return step, nil
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var description sql.NullString
	var stepIDs, status string
	if err := row.Scan(&wf.ID, &wf.Name, &description, &wf.ExecutionPointCode, &wf.InitialStepID,
		&stepIDs, &status, &wf.IsDefault, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Description = description.String
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(stepIDs), &wf.StepIDs); err != nil {
		return nil, fmt.Errorf("unmarshal step_ids for workflow %q: %w", wf.ID, err)
	}
	return wf, nil
}

func scanExecution(row rowScanner) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var workflowName, currentStep, contextJSON, failureMsg, failureStep, errMsg, initiator sql.NullString
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &workflowName, &currentStep, &status, &contextJSON,
		&failureMsg, &failureStep, &errMsg, &initiator, &exec.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	exec.WorkflowName = workflowName.String
	exec.CurrentStepID = currentStep.String
	exec.Status = schema.ExecutionStatus(status)
	exec.Context = jsonMap(contextJSON)
	exec.FailureMessage = failureMsg.String
	exec.FailureStepName = failureStep.String
	exec.Error = errMsg.String
	exec.Initiator = initiator.String
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	return exec, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mapJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonMap(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}
