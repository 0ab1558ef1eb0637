package builtin

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/plugin"
	"github.com/kolapsis/dateflow/internal/task"
)

// Agenda contributes an agenda view and emits a view_changed event whenever
// a reminder fires while its view is active, nudging collaborators to
// refresh what they show.
type Agenda struct {
	ctx *plugin.Context
}

func (p *Agenda) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "Agenda",
		Version:     "1.0.0",
		Description: "Chronological agenda of upcoming occurrences",
		Author:      "DateFlow",
		Settings: []plugin.SettingSpec{
			{
				Key:         "days_ahead",
				Name:        "Days ahead",
				Description: "How many days the agenda spans",
				Type:        plugin.SettingNumber,
				Default:     "7",
			},
		},
	}
}

func (p *Agenda) Initialize(ctx *plugin.Context) error {
	p.ctx = ctx
	ctx.RegisterView("agenda")
	ctx.RegisterEventHandler(event.ReminderDue, func(event.Event) error {
		ctx.EmitEvent(event.ViewChanged, event.ViewChangedEvent{From: "agenda", To: "agenda"})
		return nil
	})
	return nil
}

func (p *Agenda) Cleanup() error {
	p.ctx.UnregisterView("agenda")
	p.ctx = nil
	return nil
}

// Upcoming expands every task into the occurrences the agenda spans,
// starting from now.
func (p *Agenda) Upcoming(now time.Time) ([]task.Occurrence, error) {
	days, err := strconv.Atoi(p.ctx.GetPluginSetting("days_ahead", "7"))
	if err != nil || days < 1 {
		days = 7
	}
	until := now.AddDate(0, 0, days)

	var out []task.Occurrence
	for _, t := range p.ctx.GetAllTasks() {
		occs, err := task.Expand(t, now, until)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", t.ID, err)
		}
		out = append(out, occs...)
	}
	return out, nil
}
