package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/dateflow/internal/task"
)

// GetTask returns a handler that shows one task in full.
func GetTask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		t, err := ts.Get(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", err)), nil
		}

		var sb strings.Builder
		summarizeTask(&sb, t)
		if t.Description != "" {
			fmt.Fprintf(&sb, "\n%s\n", t.Description)
		}
		fmt.Fprintf(&sb, "\nCreated: %s | Updated: %s\n",
			t.CreatedAt.Format(timeFormat), t.UpdatedAt.Format(timeFormat))
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// ListTasks returns a handler that lists tasks with optional range and tag
// filters.
func ListTasks(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		from, hasFrom, err := parseTimeArg(args, "from")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		to, hasTo, err := parseTimeArg(args, "to")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if hasFrom != hasTo {
			return mcp.NewToolResultError("from and to must be given together"), nil
		}
		tag, _ := args["tag"].(string)

		var tasks []task.Task
		switch {
		case hasFrom:
			tasks = ts.ListInRange(from, to)
		case tag != "":
			tasks = ts.ListByTag(tag)
		default:
			tasks = ts.ListAll()
		}
		if tag != "" && hasFrom {
			tasks = filterByTag(tasks, tag)
		}

		if len(tasks) == 0 {
			return mcp.NewToolResultText("No tasks found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Tasks (%d found)\n\n", len(tasks))
		for _, t := range tasks {
			summarizeTask(&sb, t)
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func filterByTag(tasks []task.Task, tag string) []task.Task {
	out := tasks[:0:0]
	for _, t := range tasks {
		for _, have := range t.Tags {
			if have == tag {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// SearchTasks returns a handler for full-text task search.
func SearchTasks(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, _ := req.GetArguments()["query"].(string)
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		tasks := ts.Search(query)
		if len(tasks) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No tasks match %q.", query)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔍 Tasks matching %q (%d found)\n\n", query, len(tasks))
		for _, t := range tasks {
			summarizeTask(&sb, t)
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// UpcomingOccurrences returns a handler that expands every task into its
// concrete occurrences within a window.
func UpcomingOccurrences(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		from, ok, err := parseTimeArg(args, "from")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !ok {
			return mcp.NewToolResultError("from is required"), nil
		}
		to, ok, err := parseTimeArg(args, "to")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !ok {
			return mcp.NewToolResultError("to is required"), nil
		}

		var sb strings.Builder
		total := 0
		for _, t := range ts.ListAll() {
			// Completed and cancelled tasks have no upcoming occurrences.
			if t.Status == task.StatusCompleted || t.Status == task.StatusCancelled {
				continue
			}
			occs, err := task.Expand(t, from, to)
			if err != nil {
				fmt.Fprintf(&sb, "⚠️ %s (%s): %s\n", t.ID, t.Title, err)
				continue
			}
			for _, occ := range occs {
				total++
				fmt.Fprintf(&sb, "%s [%d] %s → %s — %s\n",
					occ.TaskID, occ.Index,
					occ.Start.Format(timeFormat), occ.End.Format(timeFormat),
					t.Title)
			}
		}

		if total == 0 {
			return mcp.NewToolResultText("No occurrences within the window."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("🗓 %d occurrences\n\n%s", total, sb.String())), nil
	}
}
