package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vetgate/vetgate/internal/points"
	"github.com/vetgate/vetgate/internal/store"
	"github.com/vetgate/vetgate/internal/validation"
)

// VetgateServerDeps holds the dependencies for creating a VetgateServer.
type VetgateServerDeps struct {
	Dispatcher *points.Dispatcher
	Store      store.Store
	Checker    *validation.Checker
	Logger     *slog.Logger
}

// VetgateServer wraps an MCP server with vetgate-specific tool handlers.
type VetgateServer struct {
	dispatcher *points.Dispatcher
	store      store.Store
	checker    *validation.Checker
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewVetgateServer creates a new VetgateServer with all 4 tools registered.
func NewVetgateServer(deps VetgateServerDeps) *VetgateServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &VetgateServer{
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		checker:    deps.Checker,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"vetgate",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Vetgate is a validation workflow engine that gates host-application actions behind runtime-authored boolean rules. Use vetgate.execute_point to run every workflow bound to an execution point, vetgate.required_datasources to discover what a point needs, vetgate.validate_workflow to check an authored workflow before activating it, and vetgate.query to inspect definitions and run history."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *VetgateServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *VetgateServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *VetgateServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executePointTool(), Handler: s.handleExecutePoint},
		{Tool: requiredDataSourcesTool(), Handler: s.handleRequiredDataSources},
		{Tool: validateWorkflowTool(), Handler: s.handleValidateWorkflow},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func executePointTool() mcp.Tool {
	return mcp.NewTool("vetgate.execute_point",
		mcp.WithDescription("Run every active workflow bound to an execution point and return the consolidated pass/fail result"),
		mcp.WithString("code", mcp.Required(), mcp.Description("Execution point code")),
		mcp.WithObject("context", mcp.Description("Business context snapshot persisted on the run")),
		mcp.WithObject("datasource_params", mcp.Description("Per-datasource parameter maps, e.g. {\"Balance\": {\"account_id\": \"a-1\"}}")),
		mcp.WithString("initiator", mcp.Description("Identity of the caller, recorded on each run")),
	)
}

func requiredDataSourcesTool() mcp.Tool {
	return mcp.NewTool("vetgate.required_datasources",
		mcp.WithDescription("List every datasource the active workflows of an execution point reference, with an example parameter skeleton"),
		mcp.WithString("code", mcp.Required(), mcp.Description("Execution point code")),
	)
}

func validateWorkflowTool() mcp.Tool {
	return mcp.NewTool("vetgate.validate_workflow",
		mcp.WithDescription("Run the authoring-time validation pass over a stored workflow and its steps"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to validate")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("vetgate.query",
		mcp.WithDescription("Query workflows, steps, executions, or one run's step trail"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "steps", "executions", "trail"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, status, limit, execution_id)")),
	)
}
