package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/dateflow/internal/task"
)

// CreateTask returns a handler that creates a scheduled task.
// defaultLead is applied when the caller gives no reminder_lead_minutes.
func CreateTask(ts *task.Store, defaultLead int) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		title, _ := args["title"].(string)
		if title == "" {
			return mcp.NewToolResultError("title is required"), nil
		}

		start, ok, err := parseTimeArg(args, "start_time")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !ok {
			return mcp.NewToolResultError("start_time is required"), nil
		}
		end, ok, err := parseTimeArg(args, "end_time")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !ok {
			return mcp.NewToolResultError("end_time is required"), nil
		}

		t := task.Task{
			Title:               title,
			StartTime:           start,
			EndTime:             end,
			ReminderLeadMinutes: defaultLead,
		}
		t.Description, _ = args["description"].(string)
		t.Color, _ = args["color"].(string)
		t.Location, _ = args["location"].(string)
		if p, ok := args["priority"].(float64); ok {
			t.Priority = int(p)
		}
		if lead, ok := args["reminder_lead_minutes"].(float64); ok {
			t.ReminderLeadMinutes = int(lead)
		}
		if raw, ok := args["tags"].([]any); ok {
			for _, item := range raw {
				if tag, ok := item.(string); ok {
					t.Tags = append(t.Tags, tag)
				}
			}
		}
		t.ParentID, _ = args["parent_id"].(string)
		if raw, ok := args["dependencies"].([]any); ok {
			for _, item := range raw {
				if id, ok := item.(string); ok {
					t.Dependencies = append(t.Dependencies, id)
				}
			}
		}

		rule, err := repeatRuleFromArgs(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		t.Repeat = rule

		created, err := ts.Create(t)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Create failed: %s", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Task created: %s\n\n", created.ID)
		summarizeTask(&sb, created)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func repeatRuleFromArgs(args map[string]any) (*task.RepeatRule, error) {
	kind, _ := args["repeat_kind"].(string)
	if kind == "" {
		return nil, nil
	}

	rule := &task.RepeatRule{Kind: task.RepeatKind(kind), Interval: 1}
	if iv, ok := args["repeat_interval"].(float64); ok && iv > 0 {
		rule.Interval = int(iv)
	}
	endDate, ok, err := parseTimeArg(args, "repeat_end_date")
	if err != nil {
		return nil, err
	}
	if ok {
		rule.EndDate = endDate
	}
	if count, ok := args["repeat_end_count"].(float64); ok && count > 0 {
		rule.EndCount = int(count)
	}
	if raw, ok := args["repeat_weekdays"].([]any); ok {
		for _, item := range raw {
			if n, ok := item.(float64); ok {
				rule.Weekdays = append(rule.Weekdays, time.Weekday(int(n)))
			}
		}
	}
	if day, ok := args["repeat_month_day"].(float64); ok && day > 0 {
		rule.MonthDay = int(day)
	}
	return rule, nil
}

// UpdateTask returns a handler that applies a partial update to a task.
func UpdateTask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		taskID, _ := args["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		var p task.Patch
		if v, ok := args["title"].(string); ok {
			p.Title = &v
		}
		if v, ok := args["description"].(string); ok {
			p.Description = &v
		}
		start, ok, err := parseTimeArg(args, "start_time")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ok {
			p.StartTime = &start
		}
		end, ok, err := parseTimeArg(args, "end_time")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ok {
			p.EndTime = &end
		}
		if v, ok := args["priority"].(float64); ok {
			n := int(v)
			p.Priority = &n
		}
		if v, ok := args["status"].(string); ok && v != "" {
			st := task.Status(v)
			p.Status = &st
		}
		if raw, ok := args["tags"].([]any); ok {
			tags := make([]string, 0, len(raw))
			for _, item := range raw {
				if tag, ok := item.(string); ok {
					tags = append(tags, tag)
				}
			}
			p.Tags = &tags
		}
		if v, ok := args["color"].(string); ok {
			p.Color = &v
		}
		if v, ok := args["reminder_lead_minutes"].(float64); ok {
			n := int(v)
			p.ReminderLeadMinutes = &n
		}
		if v, ok := args["location"].(string); ok {
			p.Location = &v
		}
		if v, ok := args["clear_repeat"].(bool); ok && v {
			p.ClearRepeat = true
		}
		rule, err := repeatRuleFromArgs(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p.Repeat = rule
		if raw, ok := args["dependencies"].([]any); ok {
			deps := make([]string, 0, len(raw))
			for _, item := range raw {
				if id, ok := item.(string); ok {
					deps = append(deps, id)
				}
			}
			p.Dependencies = &deps
		}

		updated, err := ts.Update(taskID, p)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Update failed: %s", err)), nil
		}

		var sb strings.Builder
		sb.WriteString("Task updated.\n\n")
		summarizeTask(&sb, updated)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// DeleteTask returns a handler that deletes a task.
func DeleteTask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		if err := ts.Delete(taskID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Delete failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task %s deleted.", taskID)), nil
	}
}

// CompleteTask returns a handler that marks a task completed.
func CompleteTask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		t, err := ts.Complete(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Complete failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task %s completed at %s.",
			t.ID, t.CompletedAt.Format(timeFormat))), nil
	}
}

// UncompleteTask returns a handler that reverts a completed task.
func UncompleteTask(ts *task.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, _ := req.GetArguments()["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		t, err := ts.Uncomplete(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Uncomplete failed: %s", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task %s is %s again.", t.ID, t.Status)), nil
	}
}
