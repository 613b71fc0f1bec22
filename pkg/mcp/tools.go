package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vetgate/vetgate/internal/expressions"
	"github.com/vetgate/vetgate/internal/store"
	"github.com/vetgate/vetgate/pkg/schema"
)

// --- Tool handlers ---

func (s *VetgateServer) handleExecutePoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("code is required"), nil
	}

	contextData := mcp.ParseStringMap(req, "context", nil)
	initiator := req.GetString("initiator", "mcp")

	var dsParams map[string]map[string]any
	if raw := mcp.ParseStringMap(req, "datasource_params", nil); raw != nil {
		dsParams = make(map[string]map[string]any, len(raw))
		for name, v := range raw {
			params, ok := v.(map[string]any)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("datasource_params[%q] must be an object", name)), nil
			}
			dsParams[name] = params
		}
	}

	result := s.dispatcher.ExecuteWorkflowsForPoint(ctx, code, contextData, dsParams, initiator)
	return marshalResult(result)
}

func (s *VetgateServer) handleRequiredDataSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("code is required"), nil
	}

	result := s.dispatcher.RequiredDataSourcesForPoint(ctx, code)
	return marshalResult(result)
}

func (s *VetgateServer) handleValidateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	steps, err := s.store.StepsForWorkflow(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := s.checker.ValidateWorkflow(wf, steps)
	return marshalResult(struct {
		WorkflowID string                   `json:"workflow_id"`
		Valid      bool                     `json:"valid"`
		Errors     []schema.ValidationIssue `json:"errors"`
		Warnings   []schema.ValidationIssue `json:"warnings"`
	}{
		WorkflowID: workflowID,
		Valid:      result.Valid(),
		Errors:     result.Errors,
		Warnings:   result.Warnings,
	})
}

func (s *VetgateServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", map[string]any{})

	switch resource {
	case "workflows":
		workflows, err := s.store.ListWorkflows(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(workflows)

	case "steps":
		steps, err := s.store.ListSteps(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		// The authoring surface reads {{Name}}, not the internal form.
		out := make([]*schema.Step, 0, len(steps))
		for _, st := range steps {
			cp := *st
			cp.LeftExpression = expressions.ToAuthoring(st.LeftExpression)
			cp.RightExpression = expressions.ToAuthoring(st.RightExpression)
			out = append(out, &cp)
		}
		return marshalResult(out)

	case "executions":
		execFilter := store.ExecutionFilter{
			WorkflowID: filterString(filter, "workflow_id"),
			Status:     schema.ExecutionStatus(filterString(filter, "status")),
			Limit:      filterInt(filter, "limit"),
		}
		executions, err := s.store.ListExecutions(ctx, execFilter)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(executions)

	case "trail":
		executionID := filterString(filter, "execution_id")
		if executionID == "" {
			return mcp.NewToolResultError("filter.execution_id is required for the trail resource"), nil
		}
		rows, err := s.store.ListStepExecutions(ctx, executionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(rows)

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource %q", resource)), nil
	}
}

// --- Helpers ---

func filterString(filter map[string]any, key string) string {
	if v, ok := filter[key].(string); ok {
		return v
	}
	return ""
}

func filterInt(filter map[string]any, key string) int {
	switch v := filter[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
