package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/dateflow/internal/task"
)

// ConvertToSubtask returns a handler that links an existing task underneath
// a parent.
func ConvertToSubtask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		taskID, _ := args["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		parentID, _ := args["parent_id"].(string)
		if parentID == "" {
			return mcp.NewToolResultError("parent_id is required"), nil
		}

		converted, err := ts.ConvertToSubtask(taskID, parentID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Convert failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task %s is now a subtask of %s.",
			converted.ID, parentID)), nil
	}
}

// PromoteSubtask returns a handler that detaches a subtask from its parent.
func PromoteSubtask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		promoted, err := ts.PromoteSubtask(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Promote failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task %s is top-level again.", promoted.ID)), nil
	}
}

// ListSubtasks returns a handler that lists the direct subtasks of a task
// with the parent's completion progress.
func ListSubtasks(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		subs, err := ts.Subtasks(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("List failed: %s", err)), nil
		}
		if len(subs) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("Task %s has no subtasks.", taskID)), nil
		}
		done, total, err := ts.SubtaskProgress(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("List failed: %s", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Subtasks of %s (%d/%d completed)\n\n", taskID, done, total)
		for _, t := range subs {
			summarizeTask(&sb, t)
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
