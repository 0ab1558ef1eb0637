package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/dateflow/internal/plugin"
)

func stateIcon(s plugin.LifecycleState) string {
	switch s {
	case plugin.StateEnabled:
		return "🟢"
	case plugin.StateDisabled:
		return "🟡"
	case plugin.StateFailed:
		return "🔴"
	default:
		return "⚪"
	}
}

// ListPlugins returns a handler that renders the plugin registry.
func ListPlugins(host *plugin.Host) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records := host.Records()
		if len(records) == 0 {
			return mcp.NewToolResultText("No plugins registered."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔌 Plugins (%d registered)\n\n", len(records))
		for _, rec := range records {
			fmt.Fprintf(&sb, "%s **%s** — %s\n", stateIcon(rec.State), rec.ID, rec.State)
			fmt.Fprintf(&sb, "  %s v%s", rec.Descriptor.Name, rec.Descriptor.Version)
			if rec.Descriptor.Author != "" {
				fmt.Fprintf(&sb, " by %s", rec.Descriptor.Author)
			}
			sb.WriteString("\n")
			if rec.Descriptor.Description != "" {
				fmt.Fprintf(&sb, "  %s\n", rec.Descriptor.Description)
			}
			if len(rec.Views) > 0 {
				fmt.Fprintf(&sb, "  Views: %s\n", strings.Join(rec.Views, ", "))
			}
			if rec.Handlers > 0 {
				fmt.Fprintf(&sb, "  Event handlers: %d\n", rec.Handlers)
			}
			if rec.Faults > 0 {
				fmt.Fprintf(&sb, "  ⚠️ Faults: %d\n", rec.Faults)
			}
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// EnablePlugin returns a handler that enables a loaded plugin.
func EnablePlugin(host *plugin.Host) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pluginID, _ := req.GetArguments()["plugin_id"].(string)
		if pluginID == "" {
			return mcp.NewToolResultError("plugin_id is required"), nil
		}
		if err := host.Enable(pluginID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Enable failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Plugin %s enabled.", pluginID)), nil
	}
}

// DisablePlugin returns a handler that disables a plugin without unloading it.
func DisablePlugin(host *plugin.Host) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pluginID, _ := req.GetArguments()["plugin_id"].(string)
		if pluginID == "" {
			return mcp.NewToolResultError("plugin_id is required"), nil
		}
		if err := host.Disable(pluginID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Disable failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Plugin %s disabled.", pluginID)), nil
	}
}
