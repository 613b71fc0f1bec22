package points

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/internal/engine"
	"github.com/vetgate/vetgate/pkg/schema"
)

type fakeCatalog struct {
	workflows map[string][]*schema.Workflow
	steps     map[string][]*schema.Step
}

func (f *fakeCatalog) ListWorkflowsForPoint(_ context.Context, code string) ([]*schema.Workflow, error) {
	return f.workflows[code], nil
}

func (f *fakeCatalog) StepsForWorkflow(_ context.Context, workflowID string) ([]*schema.Step, error) {
	return f.steps[workflowID], nil
}

func newFixture(t *testing.T, sources *datasources.Registry, catalog *fakeCatalog) *Dispatcher {
	t.Helper()
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register("loan.approval", "Loan Approval", "", "lending", []string{Wildcard}))
	eng := engine.New(sources, engine.NopRecorder{}, nil)
	return NewDispatcher(reg, sources, catalog, eng, nil)
}

func gateStep(id, name string, order int, left string, op schema.Operation, right, failMsg string) *schema.Step {
	s := &schema.Step{
		ID:              id,
		Name:            name,
		Order:           order,
		LeftExpression:  left,
		Operation:       op,
		RightExpression: right,
		TrueAction:      schema.ActionCompleteSuccess,
		FalseAction:     schema.ActionCompleteFailure,
		Active:          true,
	}
	if failMsg != "" {
		s.FalseActionData = map[string]any{"error": failMsg}
	}
	return s
}

func activeWorkflow(id, name, initial string, stepIDs ...string) *schema.Workflow {
	return &schema.Workflow{
		ID:                 id,
		Name:               name,
		ExecutionPointCode: "loan.approval",
		InitialStepID:      initial,
		StepIDs:            stepIDs,
		Status:             schema.WorkflowStatusActive,
	}
}

func TestExecutePointUnknownCode(t *testing.T) {
	d := newFixture(t, datasources.NewRegistry(nil), &fakeCatalog{})

	res := d.ExecuteWorkflowsForPoint(context.Background(), "nope", nil, nil, "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "nope")
}

func TestExecutePointZeroWorkflows(t *testing.T) {
	d := newFixture(t, datasources.NewRegistry(nil), &fakeCatalog{})

	res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval", nil, nil, "")
	assert.True(t, res.Success)
	assert.True(t, res.AllPassed)
	assert.Equal(t, 0, res.TotalWorkflows)
	assert.NotEmpty(t, res.Message)
}

func TestExecutePointSingleWorkflowPasses(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("Amount", nil, schema.ReturnReal, "", func() (float64, error) {
		return 1500, nil
	}))

	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"loan.approval": {activeWorkflow("wf1", "Minimum Amount", "s1", "s1")},
		},
		steps: map[string][]*schema.Step{
			"wf1": {gateStep("s1", "Minimum Amount", 1, "datasource:Amount", schema.OpGreaterEqual, "1000", "amount below minimum")},
		},
	}
	d := newFixture(t, sources, catalog)

	res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval", nil, nil, "api")
	assert.True(t, res.Success)
	assert.True(t, res.AllPassed)
	assert.Equal(t, 1, res.TotalWorkflows)
	assert.Equal(t, 1, res.PassedCount)
	assert.Equal(t, 0, res.FailedCount)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, schema.ExecutionSuccess, res.Executions[0].Status)
	assert.Empty(t, res.FailedWorkflows)
}

func TestExecutePointConsolidatesFailures(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("Amount", nil, schema.ReturnReal, "", func() (float64, error) {
		return 500, nil
	}))
	require.NoError(t, sources.Register("Status", nil, schema.ReturnString, "", func() (string, error) {
		return "active", nil
	}))

	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"loan.approval": {
				activeWorkflow("wf1", "Minimum Amount", "s1", "s1"),
				activeWorkflow("wf2", "Status Gate", "s2", "s2"),
			},
		},
		steps: map[string][]*schema.Step{
			"wf1": {gateStep("s1", "Minimum Amount", 1, "datasource:Amount", schema.OpGreaterEqual, "1000", "amount below minimum")},
			"wf2": {gateStep("s2", "Status Gate", 1, "datasource:Status", schema.OpEqual, "'active'", "")},
		},
	}
	d := newFixture(t, sources, catalog)

	res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval", nil, nil, "")
	// A business rejection is a correct outcome, not an engine failure.
	assert.True(t, res.Success)
	assert.False(t, res.AllPassed)
	assert.Equal(t, 2, res.TotalWorkflows)
	assert.Equal(t, 1, res.PassedCount)
	assert.Equal(t, 1, res.FailedCount)

	require.Len(t, res.FailedWorkflows, 1)
	assert.Equal(t, "Minimum Amount", res.FailedWorkflows[0].WorkflowName)
	assert.Equal(t, "amount below minimum", res.FailedWorkflows[0].Message)
	assert.Equal(t, []string{"amount below minimum"}, res.AllFailureMessages)
}

func TestExecutePointSkipsInactiveWorkflows(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"loan.approval": {
				{ID: "wf1", Name: "Draft", ExecutionPointCode: "loan.approval", InitialStepID: "s1", Status: schema.WorkflowStatusDraft},
			},
		},
	}
	d := newFixture(t, sources, catalog)

	res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval", nil, nil, "")
	assert.True(t, res.Success)
	assert.True(t, res.AllPassed)
	assert.Equal(t, 0, res.TotalWorkflows)
}

func TestExecutePointFailsFastOnMissingParams(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("Balance", []string{"account_id"}, schema.ReturnReal, "", func(accountID string) (float64, error) {
		return 100, nil
	}))

	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"loan.approval": {activeWorkflow("wf1", "Balance Gate", "s1", "s1")},
		},
		steps: map[string][]*schema.Step{
			"wf1": {gateStep("s1", "Balance Gate", 1, "datasource:Balance", schema.OpGreater, "0", "")},
		},
	}
	d := newFixture(t, sources, catalog)

	t.Run("datasource entry missing", func(t *testing.T) {
		res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval",
			nil, map[string]map[string]any{"Other": {}}, "")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Balance")
		assert.Empty(t, res.Executions)
	})

	t.Run("parameter key missing", func(t *testing.T) {
		res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval",
			nil, map[string]map[string]any{"Balance": {"wrong_key": 1}}, "")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "account_id")
	})

	t.Run("complete params run", func(t *testing.T) {
		res := d.ExecuteWorkflowsForPoint(context.Background(), "loan.approval",
			nil, map[string]map[string]any{"Balance": {"account_id": "a-1"}}, "")
		assert.True(t, res.Success)
		assert.True(t, res.AllPassed)
	})
}

func TestExecutePointRejectsDisallowedDataSource(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("Secret", nil, schema.ReturnString, "", func() (string, error) {
		return "", nil
	}))

	reg := NewRegistry(nil)
	require.NoError(t, reg.Register("narrow.point", "Narrow", "", "", []string{"Amount"}))
	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"narrow.point": {
				{ID: "wf1", Name: "Leak", ExecutionPointCode: "narrow.point", InitialStepID: "s1", Status: schema.WorkflowStatusActive},
			},
		},
		steps: map[string][]*schema.Step{
			"wf1": {gateStep("s1", "Leak", 1, "datasource:Secret", schema.OpIsNotNull, "", "")},
		},
	}
	eng := engine.New(sources, engine.NopRecorder{}, nil)
	d := NewDispatcher(reg, sources, catalog, eng, nil)

	res := d.ExecuteWorkflowsForPoint(context.Background(), "narrow.point",
		nil, map[string]map[string]any{}, "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Secret")
	assert.Contains(t, res.Error, "not allowed")
}

func TestRequiredDataSourcesForPoint(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("A", []string{"user_id"}, schema.ReturnReal, "metric a", func(userID string) (float64, error) {
		return 0, nil
	}))
	require.NoError(t, sources.Register("B", nil, schema.ReturnString, "metric b", func() (string, error) {
		return "", nil
	}))

	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"loan.approval": {activeWorkflow("wf1", "Combined", "s1", "s1", "s2")},
		},
		steps: map[string][]*schema.Step{
			"wf1": {
				gateStep("s2", "Second", 2, "datasource:B", schema.OpIsNotNull, "", ""),
				gateStep("s1", "First", 1, "datasource:A", schema.OpGreater, "0", ""),
			},
		},
	}
	d := newFixture(t, sources, catalog)

	res := d.RequiredDataSourcesForPoint(context.Background(), "loan.approval")
	require.True(t, res.Success)
	assert.Equal(t, 2, res.TotalDataSources)
	require.Len(t, res.DataSources, 2)

	assert.Equal(t, "A", res.DataSources[0].Name)
	assert.True(t, res.DataSources[0].Registered)
	assert.Equal(t, []string{"user_id"}, res.DataSources[0].Parameters)
	assert.Equal(t, "B", res.DataSources[1].Name)

	require.Contains(t, res.ExampleParams, "A")
	assert.Equal(t, map[string]any{"user_id": "<user_id>"}, res.ExampleParams["A"])
	assert.NotContains(t, res.ExampleParams, "B")
}

func TestRequiredDataSourcesUnregisteredReference(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	catalog := &fakeCatalog{
		workflows: map[string][]*schema.Workflow{
			"loan.approval": {activeWorkflow("wf1", "W", "s1", "s1")},
		},
		steps: map[string][]*schema.Step{
			"wf1": {gateStep("s1", "Ghost Gate", 1, "{{Ghost}}", schema.OpIsNotNull, "", "")},
		},
	}
	d := newFixture(t, sources, catalog)

	res := d.RequiredDataSourcesForPoint(context.Background(), "loan.approval")
	require.True(t, res.Success)
	require.Len(t, res.DataSources, 1)
	assert.Equal(t, "Ghost", res.DataSources[0].Name)
	assert.False(t, res.DataSources[0].Registered)
	assert.NotEmpty(t, res.DataSources[0].Warning)
}

func TestRequiredDataSourcesUnknownPoint(t *testing.T) {
	d := newFixture(t, datasources.NewRegistry(nil), &fakeCatalog{})

	res := d.RequiredDataSourcesForPoint(context.Background(), "nope")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "nope")
}
