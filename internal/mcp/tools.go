package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/dateflow/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// create_task — Create a scheduled task
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a scheduled task. Returns the new task ID. Repeating tasks are templates; their calendar occurrences are derived on demand."),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("Task title"),
			),
			mcp.WithString("description",
				mcp.Description("Longer task description"),
			),
			mcp.WithString("start_time",
				mcp.Required(),
				mcp.Description("Start time, RFC 3339 (e.g. 2026-09-01T09:00:00+02:00)"),
			),
			mcp.WithString("end_time",
				mcp.Required(),
				mcp.Description("End time, RFC 3339. Must not be before start_time."),
			),
			mcp.WithNumber("priority",
				mcp.Description("Urgency from 1 (lowest) to 5 (highest). Default 3."),
			),
			mcp.WithArray("tags",
				mcp.Description("Tags, order preserved"),
				mcp.WithStringItems(),
			),
			mcp.WithString("color",
				mcp.Description("Display color hint, not interpreted by the core"),
			),
			mcp.WithNumber("reminder_lead_minutes",
				mcp.Description("Fire a reminder this many minutes before each occurrence start. 0 disables. Defaults to the configured lead."),
			),
			mcp.WithString("location",
				mcp.Description("Free-form location"),
			),
			mcp.WithString("repeat_kind",
				mcp.Description("Repeat stepping"),
				mcp.Enum("daily", "weekly", "monthly", "yearly"),
			),
			mcp.WithNumber("repeat_interval",
				mcp.Description("Step between repetitions (default 1)"),
			),
			mcp.WithString("repeat_end_date",
				mcp.Description("Last date an occurrence may start, RFC 3339. Mutually exclusive with repeat_end_count."),
			),
			mcp.WithNumber("repeat_end_count",
				mcp.Description("Total number of occurrences. Mutually exclusive with repeat_end_date."),
			),
			mcp.WithArray("repeat_weekdays",
				mcp.Description("Weekday selectors 0 (Sunday) to 6 (Saturday), weekly rules only"),
				mcp.WithNumberItems(),
			),
			mcp.WithNumber("repeat_month_day",
				mcp.Description("Day-of-month selector, monthly rules only. Clamped to shorter months."),
			),
			mcp.WithString("parent_id",
				mcp.Description("Create the task as a subtask of this task"),
			),
			mcp.WithArray("dependencies",
				mcp.Description("Task IDs that must complete before this task is ready"),
				mcp.WithStringItems(),
			),
		),
		handlers.CreateTask(deps.Tasks, deps.Scheduler.DefaultLeadMinutes),
	)

	// update_task — Partially update a task
	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Update fields of an existing task. Only the provided fields change; validation failures leave the task untouched."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("start_time", mcp.Description("New start time, RFC 3339")),
			mcp.WithString("end_time", mcp.Description("New end time, RFC 3339")),
			mcp.WithNumber("priority", mcp.Description("New priority, 1-5")),
			mcp.WithString("status",
				mcp.Description("New status"),
				mcp.Enum("pending", "in_progress", "completed", "cancelled"),
			),
			mcp.WithArray("tags",
				mcp.Description("Replacement tag list"),
				mcp.WithStringItems(),
			),
			mcp.WithString("color", mcp.Description("New color hint")),
			mcp.WithNumber("reminder_lead_minutes", mcp.Description("New reminder lead, 0 disables")),
			mcp.WithString("location", mcp.Description("New location")),
			mcp.WithString("repeat_kind",
				mcp.Description("Replace the repeat rule with this stepping; the other repeat_* arguments refine it"),
				mcp.Enum("daily", "weekly", "monthly", "yearly"),
			),
			mcp.WithNumber("repeat_interval", mcp.Description("Step between repetitions (default 1)")),
			mcp.WithString("repeat_end_date",
				mcp.Description("Last date an occurrence may start, RFC 3339. Mutually exclusive with repeat_end_count."),
			),
			mcp.WithNumber("repeat_end_count",
				mcp.Description("Total number of occurrences. Mutually exclusive with repeat_end_date."),
			),
			mcp.WithArray("repeat_weekdays",
				mcp.Description("Weekday selectors 0 (Sunday) to 6 (Saturday), weekly rules only"),
				mcp.WithNumberItems(),
			),
			mcp.WithNumber("repeat_month_day", mcp.Description("Day-of-month selector, monthly rules only")),
			mcp.WithBoolean("clear_repeat", mcp.Description("Remove the repeat rule")),
			mcp.WithArray("dependencies",
				mcp.Description("Replacement dependency list of task IDs"),
				mcp.WithStringItems(),
			),
		),
		handlers.UpdateTask(deps.Tasks),
	)

	// delete_task — Delete a task
	s.AddTool(
		mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task. An armed reminder for the task will not fire afterwards."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to delete"),
			),
		),
		handlers.DeleteTask(deps.Tasks),
	)

	// complete_task — Mark a task completed
	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task completed, stamping its completion time."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		handlers.CompleteTask(deps.Tasks),
	)

	// uncomplete_task — Revert a completed task
	s.AddTool(
		mcp.NewTool("uncomplete_task",
			mcp.WithDescription("Revert a completed task to pending, clearing its completion time."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		handlers.UncompleteTask(deps.Tasks),
	)

	// convert_to_subtask — Link a task underneath a parent
	s.AddTool(
		mcp.NewTool("convert_to_subtask",
			mcp.WithDescription("Turn a top-level task into a subtask of another task. The parent completes automatically once all of its subtasks are completed."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task to convert"),
			),
			mcp.WithString("parent_id",
				mcp.Required(),
				mcp.Description("The task to attach it under"),
			),
		),
		handlers.ConvertToSubtask(deps.Tasks),
	)

	// promote_subtask — Detach a subtask from its parent
	s.AddTool(
		mcp.NewTool("promote_subtask",
			mcp.WithDescription("Detach a subtask from its parent, making it a top-level task again."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The subtask ID"),
			),
		),
		handlers.PromoteSubtask(deps.Tasks),
	)

	// list_subtasks — Direct children with completion progress
	s.AddTool(
		mcp.NewTool("list_subtasks",
			mcp.WithDescription("List the direct subtasks of a task along with the parent's completion progress."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The parent task ID"),
			),
		),
		handlers.ListSubtasks(deps.Tasks),
	)

	// get_task — Inspect one task
	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Get the full details of one task."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		handlers.GetTask(deps.Tasks),
	)

	// list_tasks — List tasks with optional filters
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks, optionally filtered by time range or tag."),
			mcp.WithString("from",
				mcp.Description("Range start, RFC 3339. Requires 'to'."),
			),
			mcp.WithString("to",
				mcp.Description("Range end, RFC 3339. Requires 'from'."),
			),
			mcp.WithString("tag",
				mcp.Description("Only tasks carrying this tag"),
			),
		),
		handlers.ListTasks(deps.Tasks),
	)

	// search_tasks — Full-text search
	s.AddTool(
		mcp.NewTool("search_tasks",
			mcp.WithDescription("Search tasks by title, description or location."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Case-insensitive substring to search for"),
			),
		),
		handlers.SearchTasks(deps.Tasks),
	)

	// upcoming_occurrences — Expand repeat rules over a window
	s.AddTool(
		mcp.NewTool("upcoming_occurrences",
			mcp.WithDescription("Expand every task (including repeat templates) into concrete occurrences within a time window."),
			mcp.WithString("from",
				mcp.Required(),
				mcp.Description("Window start, RFC 3339"),
			),
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("Window end, RFC 3339"),
			),
		),
		handlers.UpcomingOccurrences(deps.Tasks),
	)

	// list_plugins — Inspect plugin host state
	s.AddTool(
		mcp.NewTool("list_plugins",
			mcp.WithDescription("List registered plugins with lifecycle state, fault count and registered views."),
		),
		handlers.ListPlugins(deps.Plugins),
	)

	// enable_plugin / disable_plugin — Soft toggles
	s.AddTool(
		mcp.NewTool("enable_plugin",
			mcp.WithDescription("Enable a loaded plugin so its event handlers receive events again."),
			mcp.WithString("plugin_id",
				mcp.Required(),
				mcp.Description("The plugin ID"),
			),
		),
		handlers.EnablePlugin(deps.Plugins),
	)
	s.AddTool(
		mcp.NewTool("disable_plugin",
			mcp.WithDescription("Disable a plugin without unloading it; its handlers are suppressed until re-enabled."),
			mcp.WithString("plugin_id",
				mcp.Required(),
				mcp.Description("The plugin ID"),
			),
		),
		handlers.DisablePlugin(deps.Plugins),
	)
}
