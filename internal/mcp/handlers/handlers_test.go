package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/task"
)

func newTestStore() *task.Store {
	return task.NewStore(event.NewBus())
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestCreateTask_CreatesWithDefaults(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	handler := CreateTask(ts, 15)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"title":      "Team meeting",
		"start_time": "2026-09-01T09:00:00Z",
		"end_time":   "2026-09-01T10:00:00Z",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Task created")

	all := ts.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "Team meeting", all[0].Title)
	assert.Equal(t, 3, all[0].Priority)
	assert.Equal(t, 15, all[0].ReminderLeadMinutes, "configured default lead applies")
}

func TestCreateTask_ExplicitLeadOverridesDefault(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	handler := CreateTask(ts, 15)

	_, err := handler(context.Background(), makeReq(map[string]any{
		"title":                 "No reminder",
		"start_time":            "2026-09-01T09:00:00Z",
		"end_time":              "2026-09-01T10:00:00Z",
		"reminder_lead_minutes": float64(0),
	}))
	require.NoError(t, err)

	all := ts.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, 0, all[0].ReminderLeadMinutes)
}

func TestCreateTask_MissingRequiredFields(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	handler := CreateTask(ts, 0)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no title", map[string]any{
			"start_time": "2026-09-01T09:00:00Z",
			"end_time":   "2026-09-01T10:00:00Z",
		}},
		{"no start", map[string]any{
			"title":    "x",
			"end_time": "2026-09-01T10:00:00Z",
		}},
		{"no end", map[string]any{
			"title":      "x",
			"start_time": "2026-09-01T09:00:00Z",
		}},
		{"bad time format", map[string]any{
			"title":      "x",
			"start_time": "tomorrow",
			"end_time":   "2026-09-01T10:00:00Z",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := handler(context.Background(), makeReq(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
	assert.Empty(t, ts.ListAll())
}

func TestCreateTask_WithRepeatRule(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	handler := CreateTask(ts, 0)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"title":            "Standup",
		"start_time":       "2026-09-01T09:00:00Z",
		"end_time":         "2026-09-01T09:15:00Z",
		"repeat_kind":      "daily",
		"repeat_end_count": float64(3),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	all := ts.ListAll()
	require.Len(t, all, 1)
	require.NotNil(t, all[0].Repeat)
	assert.Equal(t, task.RepeatDaily, all[0].Repeat.Kind)
	assert.Equal(t, 1, all[0].Repeat.Interval)
	assert.Equal(t, 3, all[0].Repeat.EndCount)
}

func TestCreateTask_InvalidRepeatRuleRejected(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	handler := CreateTask(ts, 0)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"title":            "Bad rule",
		"start_time":       "2026-09-01T09:00:00Z",
		"end_time":         "2026-09-01T10:00:00Z",
		"repeat_kind":      "daily",
		"repeat_end_date":  "2026-12-01T00:00:00Z",
		"repeat_end_count": float64(3),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, ts.ListAll())
}

func TestUpdateTask_PartialPatch(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	created, err := ts.Create(task.Task{
		Title:     "Original",
		StartTime: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	handler := UpdateTask(ts)
	result, err := handler(context.Background(), makeReq(map[string]any{
		"task_id":  created.ID,
		"title":    "Renamed",
		"priority": float64(5),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	updated, err := ts.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 5, updated.Priority)
	assert.True(t, updated.StartTime.Equal(created.StartTime))
}

func TestUpdateTask_SetsRepeatRule(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	created, err := ts.Create(task.Task{
		Title:     "Plain",
		StartTime: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	handler := UpdateTask(ts)
	result, err := handler(context.Background(), makeReq(map[string]any{
		"task_id":          created.ID,
		"repeat_kind":      "weekly",
		"repeat_interval":  float64(2),
		"repeat_weekdays":  []any{float64(1), float64(3)},
		"repeat_end_count": float64(4),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	updated, err := ts.Get(created.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Repeat)
	assert.Equal(t, task.RepeatWeekly, updated.Repeat.Kind)
	assert.Equal(t, 2, updated.Repeat.Interval)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, updated.Repeat.Weekdays)
	assert.Equal(t, 4, updated.Repeat.EndCount)

	// A later rule replaces the whole previous one.
	result, err = handler(context.Background(), makeReq(map[string]any{
		"task_id":     created.ID,
		"repeat_kind": "daily",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	updated, err = ts.Get(created.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Repeat)
	assert.Equal(t, task.RepeatDaily, updated.Repeat.Kind)
	assert.Empty(t, updated.Repeat.Weekdays)
	assert.Zero(t, updated.Repeat.EndCount)
}

func TestUpdateTask_InvalidRepeatRuleRejected(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	created, err := ts.Create(task.Task{
		Title:     "Plain",
		StartTime: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	result, err := UpdateTask(ts)(context.Background(), makeReq(map[string]any{
		"task_id":          created.ID,
		"repeat_kind":      "daily",
		"repeat_end_date":  "2026-12-01T00:00:00Z",
		"repeat_end_count": float64(3),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	unchanged, err := ts.Get(created.ID)
	require.NoError(t, err)
	assert.Nil(t, unchanged.Repeat)
}

func TestUpdateTask_UnknownTask(t *testing.T) {
	t.Parallel()

	handler := UpdateTask(newTestStore())
	result, err := handler(context.Background(), makeReq(map[string]any{
		"task_id": "task-000000000000",
		"title":   "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDeleteCompleteUncomplete_Flow(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	created, err := ts.Create(task.Task{
		Title:     "Lifecycle",
		StartTime: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	result, err := CompleteTask(ts)(context.Background(), makeReq(map[string]any{"task_id": created.ID}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "completed")

	result, err = UncompleteTask(ts)(context.Background(), makeReq(map[string]any{"task_id": created.ID}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "pending")

	result, err = DeleteTask(ts)(context.Background(), makeReq(map[string]any{"task_id": created.ID}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "deleted")

	_, err = ts.Get(created.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestGetTask_ShowsDetails(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	created, err := ts.Create(task.Task{
		Title:       "Dentist",
		Description: "Bring the referral",
		StartTime:   time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		Location:    "Main Street",
	})
	require.NoError(t, err)

	result, err := GetTask(ts)(context.Background(), makeReq(map[string]any{"task_id": created.ID}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, created.ID)
	assert.Contains(t, text, "Dentist")
	assert.Contains(t, text, "Bring the referral")
	assert.Contains(t, text, "Main Street")
}

func TestListTasks_Filters(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err := ts.Create(task.Task{
		Title:     "In range",
		StartTime: base,
		EndTime:   base.Add(time.Hour),
		Tags:      []string{"work"},
	})
	require.NoError(t, err)
	_, err = ts.Create(task.Task{
		Title:     "Far away",
		StartTime: base.AddDate(0, 2, 0),
		EndTime:   base.AddDate(0, 2, 0).Add(time.Hour),
	})
	require.NoError(t, err)

	handler := ListTasks(ts)

	result, err := handler(context.Background(), makeReq(map[string]any{
		"from": "2026-09-01T00:00:00Z",
		"to":   "2026-09-02T00:00:00Z",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "In range")
	assert.NotContains(t, text, "Far away")

	result, err = handler(context.Background(), makeReq(map[string]any{"tag": "work"}))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Contains(t, text, "In range")
	assert.NotContains(t, text, "Far away")

	result, err = handler(context.Background(), makeReq(map[string]any{"from": "2026-09-01T00:00:00Z"}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "from without to is rejected")
}

func TestSearchTasks(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err := ts.Create(task.Task{Title: "Dentist visit", StartTime: base, EndTime: base.Add(time.Hour)})
	require.NoError(t, err)

	result, err := SearchTasks(ts)(context.Background(), makeReq(map[string]any{"query": "DENTIST"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Dentist visit")

	result, err = SearchTasks(ts)(context.Background(), makeReq(map[string]any{"query": "nothing"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No tasks match")
}

func TestUpcomingOccurrences_ExpandsRepeats(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	anchor := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err := ts.Create(task.Task{
		Title:     "Standup",
		StartTime: anchor,
		EndTime:   anchor.Add(15 * time.Minute),
		Repeat:    &task.RepeatRule{Kind: task.RepeatDaily, Interval: 1},
	})
	require.NoError(t, err)

	result, err := UpcomingOccurrences(ts)(context.Background(), makeReq(map[string]any{
		"from": "2026-09-01T00:00:00Z",
		"to":   "2026-09-04T00:00:00Z",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "3 occurrences")
}

func TestUpcomingOccurrences_SkipsCompletedAndCancelled(t *testing.T) {
	t.Parallel()

	ts := newTestStore()
	anchor := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	_, err := ts.Create(task.Task{Title: "Open", StartTime: anchor, EndTime: anchor.Add(time.Hour)})
	require.NoError(t, err)

	done, err := ts.Create(task.Task{Title: "Done", StartTime: anchor, EndTime: anchor.Add(time.Hour)})
	require.NoError(t, err)
	_, err = ts.Complete(done.ID)
	require.NoError(t, err)

	dropped, err := ts.Create(task.Task{
		Title:     "Dropped",
		StartTime: anchor,
		EndTime:   anchor.Add(time.Hour),
		Repeat:    &task.RepeatRule{Kind: task.RepeatDaily, Interval: 1},
	})
	require.NoError(t, err)
	cancelled := task.StatusCancelled
	_, err = ts.Update(dropped.ID, task.Patch{Status: &cancelled})
	require.NoError(t, err)

	result, err := UpcomingOccurrences(ts)(context.Background(), makeReq(map[string]any{
		"from": "2026-09-01T00:00:00Z",
		"to":   "2026-09-04T00:00:00Z",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "1 occurrences")
	assert.Contains(t, text, "Open")
	assert.NotContains(t, text, "Done")
	assert.NotContains(t, text, "Dropped")
}
