package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedStep(t *testing.T, s *LibSQLStore, name string, order int) *schema.Step {
	t.Helper()
	step := &schema.Step{
		ID:              uuid.New().String(),
		Name:            name,
		Order:           order,
		LeftExpression:  "{{Amount}}",
		Operation:       schema.OpGreaterEqual,
		RightExpression: "1000",
		TrueAction:      schema.ActionCompleteSuccess,
		FalseAction:     schema.ActionCompleteFailure,
		FalseActionData: map[string]any{"error": "amount below minimum"},
		Active:          true,
	}
	require.NoError(t, s.CreateStep(context.Background(), step))
	return step
}

func seedWorkflow(t *testing.T, s *LibSQLStore, code string, stepIDs ...string) *schema.Workflow {
	t.Helper()
	initial := ""
	if len(stepIDs) > 0 {
		initial = stepIDs[0]
	}
	wf := &schema.Workflow{
		ID:                 uuid.New().String(),
		Name:               "wf-" + code,
		ExecutionPointCode: code,
		InitialStepID:      initial,
		StepIDs:            stepIDs,
		Status:             schema.WorkflowStatusActive,
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

// --- Step Tests ---

func TestCreateAndGetStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	step := seedStep(t, s, "Minimum Amount", 1)

	got, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, "Minimum Amount", got.Name)
	assert.Equal(t, 1, got.Order)
	// Expressions are stored in internal token form.
	assert.Equal(t, "datasource:Amount", got.LeftExpression)
	assert.Equal(t, "1000", got.RightExpression)
	assert.Equal(t, schema.OpGreaterEqual, got.Operation)
	assert.Equal(t, schema.ActionCompleteFailure, got.FalseAction)
	assert.Equal(t, map[string]any{"error": "amount below minimum"}, got.FalseActionData)
	assert.True(t, got.Active)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetStep_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetStep(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestUpdateStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	step := seedStep(t, s, "Minimum Amount", 1)

	step.Name = "Renamed"
	step.LeftExpression = "{{Amount}} * 2"
	step.Active = false
	require.NoError(t, s.UpdateStep(ctx, step))

	got, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "datasource:Amount * 2", got.LeftExpression)
	assert.False(t, got.Active)
}

func TestUpdateStep_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStep(context.Background(), &schema.Step{
		ID: "ghost", Name: "X", Operation: schema.OpEqual,
		TrueAction: schema.ActionProceed, FalseAction: schema.ActionProceed,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestDeleteStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	step := seedStep(t, s, "Doomed", 1)

	require.NoError(t, s.DeleteStep(ctx, step.ID))
	_, err := s.GetStep(ctx, step.ID)
	require.Error(t, err)
}

func TestListSteps_OrderedByDisplayOrder(t *testing.T) {
	s := newTestStore(t)
	seedStep(t, s, "Second", 2)
	seedStep(t, s, "First", 1)

	steps, err := s.ListSteps(context.Background())
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "First", steps[0].Name)
	assert.Equal(t, "Second", steps[1].Name)
}

// --- Workflow Tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s1 := seedStep(t, s, "Gate", 1)
	wf := seedWorkflow(t, s, "loan.approval", s1.ID)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "loan.approval", got.ExecutionPointCode)
	assert.Equal(t, s1.ID, got.InitialStepID)
	assert.Equal(t, []string{s1.ID}, got.StepIDs)
	assert.Equal(t, schema.WorkflowStatusActive, got.Status)
}

func TestUpdateWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s1 := seedStep(t, s, "Gate", 1)
	wf := seedWorkflow(t, s, "loan.approval", s1.ID)

	wf.Status = schema.WorkflowStatusArchived
	wf.Name = "Archived Gate"
	require.NoError(t, s.UpdateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusArchived, got.Status)
	assert.Equal(t, "Archived Gate", got.Name)
}

func TestListWorkflowsForPoint_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s1 := seedStep(t, s, "Gate", 1)

	older := &schema.Workflow{
		ID: uuid.New().String(), Name: "older", ExecutionPointCode: "p",
		InitialStepID: s1.ID, StepIDs: []string{s1.ID},
		Status: schema.WorkflowStatusActive, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &schema.Workflow{
		ID: uuid.New().String(), Name: "newer", ExecutionPointCode: "p",
		InitialStepID: s1.ID, StepIDs: []string{s1.ID},
		Status: schema.WorkflowStatusActive, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateWorkflow(ctx, newer))
	require.NoError(t, s.CreateWorkflow(ctx, older))
	seedWorkflow(t, s, "other.point", s1.ID)

	workflows, err := s.ListWorkflowsForPoint(ctx, "p")
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "older", workflows[0].Name)
	assert.Equal(t, "newer", workflows[1].Name)
}

func TestStepsForWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s2 := seedStep(t, s, "Second", 2)
	s1 := seedStep(t, s, "First", 1)
	seedStep(t, s, "Unrelated", 3)
	wf := seedWorkflow(t, s, "loan.approval", s1.ID, s2.ID)

	steps, err := s.StepsForWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "First", steps[0].Name)
	assert.Equal(t, "Second", steps[1].Name)
}

// --- Execution Tests ---

func seedExecution(t *testing.T, s *LibSQLStore, wfID string, status schema.ExecutionStatus) *schema.Execution {
	t.Helper()
	exec := &schema.Execution{
		ID:         uuid.New().String(),
		WorkflowID: wfID,
		Status:     status,
		Context:    map[string]any{"request_id": "r-1"},
		Initiator:  "test",
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateExecution(context.Background(), exec))
	return exec
}

func TestCreateAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1", schema.ExecutionRunning)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, schema.ExecutionRunning, got.Status)
	assert.Equal(t, "r-1", got.Context["request_id"])
	assert.Equal(t, "test", got.Initiator)
	assert.Nil(t, got.CompletedAt)
}

func TestUpdateExecutionToTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1", schema.ExecutionRunning)

	done := time.Now().UTC()
	exec.Status = schema.ExecutionFailure
	exec.FailureMessage = "amount below minimum"
	exec.FailureStepName = "Minimum Amount"
	exec.CompletedAt = &done
	require.NoError(t, s.UpdateExecution(ctx, exec))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionFailure, got.Status)
	assert.Equal(t, "amount below minimum", got.FailureMessage)
	require.NotNil(t, got.CompletedAt)
}

func TestListExecutions_Filtered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, s, "wf-1", schema.ExecutionSuccess)
	seedExecution(t, s, "wf-1", schema.ExecutionFailure)
	seedExecution(t, s, "wf-2", schema.ExecutionSuccess)

	byWorkflow, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	byStatus, err := s.ListExecutions(ctx, ExecutionFilter{Status: schema.ExecutionSuccess})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAppendStepExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1", schema.ExecutionRunning)

	rec := &schema.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		StepID:      "s1",
		StepName:    "Gate",
		LeftValue:   "1500",
		RightValue:  "1000",
		Result:      true,
		Action:      schema.ActionCompleteSuccess,
	}
	require.NoError(t, s.AppendStepExecution(ctx, rec))

	recs, err := s.ListStepExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1500", recs[0].LeftValue)
	assert.True(t, recs[0].Result)
	assert.Equal(t, schema.ActionCompleteSuccess, recs[0].Action)
}

func TestAppendStepExecution_FrozenWhenTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1", schema.ExecutionSuccess)

	err := s.AppendStepExecution(ctx, &schema.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: exec.ID,
		StepID:      "s1",
		Action:      schema.ActionCompleteSuccess,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestAppendStepExecution_UnknownExecution(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendStepExecution(context.Background(), &schema.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: "ghost",
		StepID:      "s1",
		Action:      schema.ActionProceed,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestPurgeExecutionsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := seedExecution(t, s, "wf-1", schema.ExecutionRunning)
	require.NoError(t, s.AppendStepExecution(ctx, &schema.StepExecution{
		ID: uuid.New().String(), ExecutionID: old.ID, StepID: "s1", Action: schema.ActionCompleteSuccess,
	}))
	oldDone := time.Now().UTC().Add(-48 * time.Hour)
	old.Status = schema.ExecutionSuccess
	old.CompletedAt = &oldDone
	require.NoError(t, s.UpdateExecution(ctx, old))

	recent := seedExecution(t, s, "wf-1", schema.ExecutionRunning)
	recentDone := time.Now().UTC()
	recent.Status = schema.ExecutionSuccess
	recent.CompletedAt = &recentDone
	require.NoError(t, s.UpdateExecution(ctx, recent))

	running := seedExecution(t, s, "wf-1", schema.ExecutionRunning)

	n, err := s.PurgeExecutionsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetExecution(ctx, old.ID)
	require.Error(t, err)
	_, err = s.GetExecution(ctx, recent.ID)
	require.NoError(t, err)
	_, err = s.GetExecution(ctx, running.ID)
	require.NoError(t, err)

	// The purged run's step trail is gone with it.
	recs, err := s.ListStepExecutions(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
