package builtin

import (
	"log/slog"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/plugin"
	"github.com/kolapsis/dateflow/internal/sched"
	"github.com/kolapsis/dateflow/internal/task"
)

// ActivityLog mirrors task lifecycle and reminder events into the structured
// log, giving operators an audit trail without touching the core.
type ActivityLog struct {
	ctx *plugin.Context
}

func (p *ActivityLog) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "Activity Log",
		Version:     "1.0.0",
		Description: "Logs task changes and due reminders",
		Author:      "DateFlow",
		Settings: []plugin.SettingSpec{
			{
				Key:         "log_reminders",
				Name:        "Log reminders",
				Description: "Also log reminder_due events",
				Type:        plugin.SettingBoolean,
				Default:     "true",
			},
		},
	}
}

func (p *ActivityLog) Initialize(ctx *plugin.Context) error {
	p.ctx = ctx
	for _, typ := range []string{event.TaskCreated, event.TaskUpdated, event.TaskDeleted, event.TaskCompleted} {
		ctx.RegisterEventHandler(typ, p.onTaskEvent)
	}
	ctx.RegisterEventHandler(event.ReminderDue, p.onReminder)
	return nil
}

func (p *ActivityLog) Cleanup() error {
	p.ctx = nil
	return nil
}

func (p *ActivityLog) onTaskEvent(e event.Event) error {
	switch payload := e.Payload.(type) {
	case task.CreatedEvent:
		slog.Info("activity: task created", "task_id", payload.TaskID, "title", payload.Task.Title)
	case task.UpdatedEvent:
		slog.Info("activity: task updated", "task_id", payload.TaskID)
	case task.DeletedEvent:
		slog.Info("activity: task deleted", "task_id", payload.TaskID)
	case task.CompletedEvent:
		slog.Info("activity: task completed", "task_id", payload.TaskID)
	}
	return nil
}

func (p *ActivityLog) onReminder(e event.Event) error {
	if p.ctx.GetPluginSetting("log_reminders", "true") != "true" {
		return nil
	}
	if payload, ok := e.Payload.(sched.ReminderDueEvent); ok {
		slog.Info("activity: reminder due",
			"task_id", payload.TaskID,
			"occurrence_index", payload.OccurrenceIndex,
			"fire_time", payload.FireTime)
	}
	return nil
}
