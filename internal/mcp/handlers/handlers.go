package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/kolapsis/dateflow/internal/task"
)

const timeFormat = time.RFC3339

// parseTimeArg parses an RFC 3339 argument value.
func parseTimeArg(args map[string]any, key string) (time.Time, bool, error) {
	raw, ok := args[key].(string)
	if !ok || raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s must be RFC 3339: %v", key, err)
	}
	return t, true, nil
}

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusPending:
		return "⏳"
	case task.StatusInProgress:
		return "🔄"
	case task.StatusCompleted:
		return "✅"
	case task.StatusCancelled:
		return "🚫"
	default:
		return "❓"
	}
}

// summarizeTask writes a one-block summary of a task.
func summarizeTask(sb *strings.Builder, t task.Task) {
	fmt.Fprintf(sb, "%s **%s** — %s\n", statusIcon(t.Status), t.ID, t.Status)
	fmt.Fprintf(sb, "  %s\n", t.Title)
	fmt.Fprintf(sb, "  %s → %s | Priority: %d\n",
		t.StartTime.Format(timeFormat), t.EndTime.Format(timeFormat), t.Priority)
	if len(t.Tags) > 0 {
		fmt.Fprintf(sb, "  Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	if t.Location != "" {
		fmt.Fprintf(sb, "  Location: %s\n", t.Location)
	}
	if t.ReminderLeadMinutes > 0 {
		fmt.Fprintf(sb, "  Reminder: %d minutes before start\n", t.ReminderLeadMinutes)
	}
	if t.Repeat != nil {
		fmt.Fprintf(sb, "  Repeats: %s\n", describeRepeat(*t.Repeat))
	}
	if t.ParentID != "" {
		fmt.Fprintf(sb, "  Subtask of: %s\n", t.ParentID)
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(sb, "  Depends on: %s\n", strings.Join(t.Dependencies, ", "))
	}
	if !t.CompletedAt.IsZero() {
		fmt.Fprintf(sb, "  Completed: %s\n", t.CompletedAt.Format(timeFormat))
	}
}

func describeRepeat(r task.RepeatRule) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, every %d", r.Kind, r.Interval)
	if len(r.Weekdays) > 0 {
		names := make([]string, len(r.Weekdays))
		for i, wd := range r.Weekdays {
			names[i] = wd.String()
		}
		fmt.Fprintf(&sb, " on %s", strings.Join(names, "/"))
	}
	if r.MonthDay > 0 {
		fmt.Fprintf(&sb, " on day %d", r.MonthDay)
	}
	switch {
	case !r.EndDate.IsZero():
		fmt.Fprintf(&sb, " until %s", r.EndDate.Format("2006-01-02"))
	case r.EndCount > 0:
		fmt.Fprintf(&sb, ", %d times", r.EndCount)
	}
	return sb.String()
}
