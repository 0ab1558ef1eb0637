// Package mcp exposes the scheduling core to external collaborators as MCP
// tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/dateflow/internal/config"
	"github.com/kolapsis/dateflow/internal/plugin"
	"github.com/kolapsis/dateflow/internal/task"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Tasks     *task.Store
	Plugins   *plugin.Host
	Scheduler config.SchedulerConfig
	Version   string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"DateFlow",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
