package task

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority is an ordinal urgency hint, 1 (lowest) to 5 (highest).
const (
	PriorityMin = 1
	PriorityMax = 5
)

// Sentinel errors for the store and expander taxonomy.
// Callers match them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("task not found")
	ErrRecurrenceOverflow = errors.New("recurrence overflow")
)

// Task is the canonical scheduling record. A task carrying a repeat rule is
// a template; its calendar appearances are Occurrences derived on demand and
// never stored as tasks themselves.
type Task struct {
	ID          string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Priority    int
	Status      Status
	Tags        []string
	Color       string

	// ReminderLeadMinutes is how many minutes before an occurrence start
	// the reminder fires. 0 means no reminder.
	ReminderLeadMinutes int

	Repeat      *RepeatRule
	CompletedAt time.Time
	Location    string

	// ParentID links a subtask to its parent task. Empty for top-level
	// tasks. Completion rolls up: the parent completes when its last
	// subtask does.
	ParentID string

	// Dependencies lists task IDs that must complete before this task is
	// ready. The store validates they exist; readiness is reported, not
	// enforced.
	Dependencies []string

	// Metadata is reserved for plugins. The core stores and round-trips it
	// but never interprets the contents.
	Metadata map[string]string
}

// GenerateID creates a new task ID in the format task-{12 hex chars}.
func GenerateID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("task-%x", b)
}

// Clone returns a deep copy of the task. Queries hand out clones so callers
// can never mutate store state through a returned record.
func (t Task) Clone() Task {
	c := t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Repeat != nil {
		r := *t.Repeat
		if t.Repeat.Weekdays != nil {
			r.Weekdays = append([]time.Weekday(nil), t.Repeat.Weekdays...)
		}
		c.Repeat = &r
	}
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return c
}

// IsRepeating reports whether the task is a template with a repeat rule.
func (t Task) IsRepeating() bool {
	return t.Repeat != nil
}

// Validate checks the task invariants. It returns an error wrapping
// ErrValidation describing the first violation found.
func (t Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if t.StartTime.IsZero() {
		return fmt.Errorf("%w: start_time is required", ErrValidation)
	}
	if t.EndTime.IsZero() {
		return fmt.Errorf("%w: end_time is required", ErrValidation)
	}
	if t.EndTime.Before(t.StartTime) {
		return fmt.Errorf("%w: end_time %s before start_time %s",
			ErrValidation, t.EndTime.Format(time.RFC3339), t.StartTime.Format(time.RFC3339))
	}
	if t.Priority < PriorityMin || t.Priority > PriorityMax {
		return fmt.Errorf("%w: priority must be between %d and %d, got %d",
			ErrValidation, PriorityMin, PriorityMax, t.Priority)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	if t.Status == StatusCompleted {
		if t.CompletedAt.IsZero() {
			return fmt.Errorf("%w: completed task missing completed_at", ErrValidation)
		}
		if t.CompletedAt.Before(t.CreatedAt) {
			return fmt.Errorf("%w: completed_at before created_at", ErrValidation)
		}
	}
	if t.ReminderLeadMinutes < 0 {
		return fmt.Errorf("%w: reminder lead must not be negative", ErrValidation)
	}
	if t.ID != "" && t.ParentID == t.ID {
		return fmt.Errorf("%w: task cannot be its own parent", ErrValidation)
	}
	for _, dep := range t.Dependencies {
		if t.ID != "" && dep == t.ID {
			return fmt.Errorf("%w: task cannot depend on itself", ErrValidation)
		}
	}
	if t.Repeat != nil {
		if err := t.Repeat.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Occurrence is one concrete calendar appearance of a task, derived from its
// repeat rule. Occurrences are transient: recomputed on demand and owned by
// the query that produced them.
type Occurrence struct {
	TaskID string
	Start  time.Time
	End    time.Time
	Index  int
}

// normalizeIDs applies the tag normalization to a dependency list: order
// preserved, duplicates and empty entries dropped.
func normalizeIDs(ids []string) []string {
	return normalizeTags(ids)
}

// normalizeTags preserves order and drops duplicates and empty entries.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
