package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// CollectFunc performs one full collection. Empty engine or level means the
// configured value.
type CollectFunc func(ctx context.Context, engine, level string) (any, error)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server with registered tools.
func NewServer(version string, collect CollectFunc) *Server {
	s := server.NewMCPServer("sqlinsight", version, server.WithLogging())

	registerTools(s, &handlers{collect: collect})

	return &Server{
		mcpServer: s,
	}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer, h *handlers) {
	collectTool := mcp.NewTool("collect_once",
		mcp.WithDescription("Run one collection cycle against the configured database: Level 0 metrics, Level 1 slow/error log window when allowed, capability probe and level negotiation. Returns the scheduler record as JSON."),
		mcp.WithString("engine",
			mcp.Description("Database engine; omit to use the configured engine"),
			mcp.Enum("mysql", "postgres"),
		),
		mcp.WithString("level",
			mcp.Description("Preferred level, e.g. 'Level 1' or '1'; still capped by the configured max accepted level"),
		),
	)
	s.AddTool(collectTool, h.handleCollectOnce)

	negotiateOpts := []mcp.ToolOption{
		mcp.WithDescription("Negotiate the diagnostics level for a policy and a capability probe. Omitted probe flags are false."),
		mcp.WithString("engine",
			mcp.Description("Engine whose vocabulary downgrade reasons use"),
			mcp.DefaultString("mysql"),
			mcp.Enum("mysql", "postgres"),
		),
		mcp.WithString("preferred_level",
			mcp.Description("Preferred level"),
			mcp.DefaultString("Level 3"),
		),
		mcp.WithString("max_accepted_level",
			mcp.Description("Highest level the operator accepts"),
			mcp.DefaultString("Level 2"),
		),
		mcp.WithBoolean("expert_mode_enabled",
			mcp.Description("Allow Level 3 expert diagnostics"),
		),
	}
	for _, name := range probeFields {
		negotiateOpts = append(negotiateOpts, mcp.WithBoolean(name, mcp.Description("Capability probe flag")))
	}
	s.AddTool(mcp.NewTool("negotiate_level", negotiateOpts...), h.handleNegotiateLevel)

	tasksTool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List the diagnostic tasks enabled at a level."),
		mcp.WithString("level",
			mcp.Required(),
			mcp.Description("Level, e.g. 'Level 2' or '2'"),
		),
		mcp.WithBoolean("has_sys_schema_access",
			mcp.Description("Include the sys schema helper task at Level 2"),
		),
	)
	s.AddTool(tasksTool, h.handleListTasks)

	fingerprintTool := mcp.NewTool("fingerprint_sql",
		mcp.WithDescription("Normalize a SQL statement into its digest fingerprint (literals replaced by ?, whitespace collapsed, lowercased)."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL text"),
		),
	)
	s.AddTool(fingerprintTool, h.handleFingerprintSQL)
}
