package task

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kolapsis/dateflow/internal/event"
)

// Emitter publishes store change events. Defined at the consumer side per
// Go conventions; *event.Bus satisfies it.
type Emitter interface {
	Emit(typ string, payload any)
}

// Backend persists tasks across restarts. Implementations live in
// internal/store. A nil backend keeps the store memory-only.
type Backend interface {
	SaveTask(t Task) error
	DeleteTask(id string) error
	LoadTasks() ([]Task, error)
}

// Event payloads carried on the bus for store mutations. Updated events
// carry both snapshots so plugins can diff.
type CreatedEvent struct {
	TaskID string
	Task   Task
}

type UpdatedEvent struct {
	TaskID  string
	OldTask Task
	NewTask Task
}

type DeletedEvent struct {
	TaskID string
	Task   Task
}

type CompletedEvent struct {
	TaskID string
	Task   Task
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	Title               *string
	Description         *string
	StartTime           *time.Time
	EndTime             *time.Time
	Priority            *int
	Status              *Status
	Tags                *[]string
	Color               *string
	ReminderLeadMinutes *int
	Location            *string
	Metadata            *map[string]string

	// Repeat replaces the rule when set; ClearRepeat removes it.
	Repeat      *RepeatRule
	ClearRepeat bool

	// Dependencies replaces the dependency list when set. Parent links
	// change through ConvertToSubtask and PromoteSubtask only.
	Dependencies *[]string
}

// Store owns the canonical task records. All mutations are serialized
// behind a single writer lock and appear atomic to concurrent readers;
// every query returns deep copies, never live references.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	emitter Emitter
	backend Backend
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBackend attaches a persistence backend. Existing tasks are loaded
// from it by Load.
func WithBackend(b Backend) StoreOption {
	return func(s *Store) { s.backend = b }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a task store that publishes change events on emitter.
// A nil emitter disables event publication.
func NewStore(emitter Emitter, opts ...StoreOption) *Store {
	s := &Store{
		tasks:   make(map[string]*Task),
		emitter: emitter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load populates the store from its backend. No events are emitted for
// loaded tasks.
func (s *Store) Load() error {
	if s.backend == nil {
		return nil
	}
	tasks, err := s.backend.LoadTasks()
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		clone := t.Clone()
		s.tasks[t.ID] = &clone
	}
	slog.Info("task store loaded", "tasks", len(tasks))
	return nil
}

// Create validates and stores a new task, assigning its identifier and
// timestamps, and emits a task_created event. The ID, CreatedAt, UpdatedAt
// and CompletedAt of the input are ignored.
func (s *Store) Create(t Task) (Task, error) {
	now := s.now()
	t.ID = GenerateID()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CompletedAt = time.Time{}
	t.Tags = normalizeTags(t.Tags)
	t.Dependencies = normalizeIDs(t.Dependencies)
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == 0 {
		t.Priority = 3
	}

	if err := t.Validate(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	if err := s.validateRelationsLocked(t); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	if err := s.persist(t); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	stored := t.Clone()
	s.tasks[t.ID] = &stored
	s.mu.Unlock()

	slog.Info("task created", "task_id", t.ID, "title", t.Title)
	s.emit(event.TaskCreated, CreatedEvent{TaskID: t.ID, Task: t.Clone()})
	if t.ParentID != "" {
		s.rollup(t.ParentID)
	}
	return t, nil
}

// Update applies a partial update, re-validates the merged result, and
// emits a task_updated event carrying both the prior and the new snapshot.
// A validation failure leaves the stored task unchanged.
func (s *Store) Update(id string, p Patch) (Task, error) {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	old := existing.Clone()

	merged := applyPatch(old.Clone(), p, s.now())
	if err := merged.Validate(); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	if err := s.validateRelationsLocked(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	if err := s.persist(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	stored := merged.Clone()
	s.tasks[id] = &stored
	s.mu.Unlock()

	slog.Debug("task updated", "task_id", id)
	s.emit(event.TaskUpdated, UpdatedEvent{TaskID: id, OldTask: old, NewTask: merged.Clone()})
	if merged.ParentID != "" && old.Status != merged.Status {
		s.rollup(merged.ParentID)
	}
	return merged, nil
}

// Delete removes a task and emits a task_deleted event carrying the
// removed snapshot.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := existing.Clone()
	if s.backend != nil {
		if err := s.backend.DeleteTask(id); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("deleting task %s: %w", id, err)
		}
	}
	delete(s.tasks, id)

	// No task may keep referencing a record that no longer exists:
	// subtasks are promoted and dependency lists are scrubbed.
	unlinked := s.unlinkLocked(id)
	s.mu.Unlock()

	slog.Info("task deleted", "task_id", id)
	s.emit(event.TaskDeleted, DeletedEvent{TaskID: id, Task: removed})
	for _, u := range unlinked {
		s.emit(event.TaskUpdated, UpdatedEvent{TaskID: u.new.ID, OldTask: u.old, NewTask: u.new})
	}
	return nil
}

type unlink struct {
	old Task
	new Task
}

// unlinkLocked clears parent links and dependency entries pointing at a
// deleted task. Caller holds the write lock.
func (s *Store) unlinkLocked(id string) []unlink {
	now := s.now()
	var out []unlink
	for _, t := range s.tasks {
		old := t.Clone()
		changed := false
		if t.ParentID == id {
			t.ParentID = ""
			changed = true
		}
		for i, dep := range t.Dependencies {
			if dep == id {
				t.Dependencies = append(t.Dependencies[:i], t.Dependencies[i+1:]...)
				changed = true
				break
			}
		}
		if !changed {
			continue
		}
		t.UpdatedAt = now
		if err := s.persist(*t); err != nil {
			slog.Warn("persisting unlinked task failed", "task_id", t.ID, "error", err)
		}
		out = append(out, unlink{old: old, new: t.Clone()})
	}
	return out
}

// Complete transitions a task to completed, stamping CompletedAt, and
// emits a task_completed event. Completing an already completed task is a
// no-op.
func (s *Store) Complete(id string) (Task, error) {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if existing.Status == StatusCompleted {
		snap := existing.Clone()
		s.mu.Unlock()
		return snap, nil
	}

	merged := existing.Clone()
	now := s.now()
	merged.Status = StatusCompleted
	merged.CompletedAt = now
	merged.UpdatedAt = now
	if err := s.persist(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	stored := merged.Clone()
	s.tasks[id] = &stored
	s.mu.Unlock()

	slog.Info("task completed", "task_id", id)
	s.emit(event.TaskCompleted, CompletedEvent{TaskID: id, Task: merged.Clone()})
	if merged.ParentID != "" {
		s.rollup(merged.ParentID)
	}
	return merged, nil
}

// Uncomplete reverts a completed task to pending, clearing CompletedAt,
// and emits a task_updated event.
func (s *Store) Uncomplete(id string) (Task, error) {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	old := existing.Clone()

	merged := old.Clone()
	merged.Status = StatusPending
	merged.CompletedAt = time.Time{}
	merged.UpdatedAt = s.now()
	if err := s.persist(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	stored := merged.Clone()
	s.tasks[id] = &stored
	s.mu.Unlock()

	slog.Info("task uncompleted", "task_id", id)
	s.emit(event.TaskUpdated, UpdatedEvent{TaskID: id, OldTask: old, NewTask: merged.Clone()})
	if merged.ParentID != "" {
		s.rollup(merged.ParentID)
	}
	return merged, nil
}

// ConvertToSubtask links an existing top-level task underneath a parent
// and emits a task_updated event. Converting a task that is already a
// subtask, or attaching it to itself or one of its own descendants, is
// refused.
func (s *Store) ConvertToSubtask(id, parentID string) (Task, error) {
	if parentID == "" {
		return Task{}, fmt.Errorf("%w: parent_id is required", ErrValidation)
	}

	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if existing.ParentID != "" {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s is already a subtask of %s", ErrValidation, id, existing.ParentID)
	}
	old := existing.Clone()

	merged := old.Clone()
	merged.ParentID = parentID
	merged.UpdatedAt = s.now()
	if err := s.validateRelationsLocked(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	if err := s.persist(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	stored := merged.Clone()
	s.tasks[id] = &stored
	s.mu.Unlock()

	slog.Info("task converted to subtask", "task_id", id, "parent_id", parentID)
	s.emit(event.TaskUpdated, UpdatedEvent{TaskID: id, OldTask: old, NewTask: merged.Clone()})
	s.rollup(parentID)
	return merged, nil
}

// PromoteSubtask detaches a subtask from its parent, making it top-level
// again, and emits a task_updated event.
func (s *Store) PromoteSubtask(id string) (Task, error) {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if existing.ParentID == "" {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s is not a subtask", ErrValidation, id)
	}
	old := existing.Clone()
	parentID := old.ParentID

	merged := old.Clone()
	merged.ParentID = ""
	merged.UpdatedAt = s.now()
	if err := s.persist(merged); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	stored := merged.Clone()
	s.tasks[id] = &stored
	s.mu.Unlock()

	slog.Info("subtask promoted", "task_id", id, "parent_id", parentID)
	s.emit(event.TaskUpdated, UpdatedEvent{TaskID: id, OldTask: old, NewTask: merged.Clone()})
	s.rollup(parentID)
	return merged, nil
}

// Subtasks returns snapshots of the direct subtasks of a task, ordered by
// start time then ID.
func (s *Store) Subtasks(parentID string) ([]Task, error) {
	s.mu.RLock()
	if _, ok := s.tasks[parentID]; !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if t.ParentID == parentID {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sortTasks(out)
	return out, nil
}

// SubtaskProgress reports how many direct subtasks of a task are completed.
func (s *Store) SubtaskProgress(id string) (done, total int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[id]; !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, t := range s.tasks {
		if t.ParentID != id {
			continue
		}
		total++
		if t.Status == StatusCompleted {
			done++
		}
	}
	return done, total, nil
}

// DependenciesMet reports whether every dependency of a task has completed.
// A task with no dependencies is always ready.
func (s *Store) DependenciesMet(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, dep := range t.Dependencies {
		d, ok := s.tasks[dep]
		if !ok || d.Status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// rollup reconciles a parent with its subtasks after one of them changed
// state: the parent completes when all of its subtasks have, and reverts
// when one reopens. Completion cascades upward through the parent's own
// rollup.
func (s *Store) rollup(parentID string) {
	done, total, err := s.SubtaskProgress(parentID)
	if err != nil || total == 0 {
		return
	}
	parent, err := s.Get(parentID)
	if err != nil {
		return
	}

	switch {
	case done == total && parent.Status != StatusCompleted:
		if _, err := s.Complete(parentID); err != nil {
			slog.Warn("completing parent task failed", "task_id", parentID, "error", err)
		}
	case done < total && parent.Status == StatusCompleted:
		if _, err := s.Uncomplete(parentID); err != nil {
			slog.Warn("reopening parent task failed", "task_id", parentID, "error", err)
		}
	}
}

// validateRelationsLocked checks that the parent and every dependency of t
// refer to existing tasks and that the parent link introduces no cycle.
// Caller holds the lock.
func (s *Store) validateRelationsLocked(t Task) error {
	if t.ParentID != "" {
		if _, ok := s.tasks[t.ParentID]; !ok {
			return fmt.Errorf("%w: parent task %s not found", ErrValidation, t.ParentID)
		}
		if s.isDescendantLocked(t.ParentID, t.ID) {
			return fmt.Errorf("%w: parent %s is a descendant of %s", ErrValidation, t.ParentID, t.ID)
		}
	}
	for _, dep := range t.Dependencies {
		if _, ok := s.tasks[dep]; !ok {
			return fmt.Errorf("%w: dependency %s not found", ErrValidation, dep)
		}
	}
	return nil
}

// isDescendantLocked reports whether id sits underneath ancestor in the
// subtask tree, walking the parent chain. Caller holds the lock.
func (s *Store) isDescendantLocked(id, ancestor string) bool {
	for id != "" {
		if id == ancestor {
			return true
		}
		t, ok := s.tasks[id]
		if !ok {
			return false
		}
		id = t.ParentID
	}
	return false
}

// Get returns a snapshot of one task.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// ListAll returns snapshots of every task, ordered by start time then ID.
func (s *Store) ListAll() []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sortTasks(out)
	return out
}

// ListInRange returns snapshots of tasks whose [start, end] interval
// overlaps the given range. Repeating templates are included when any
// expanded occurrence falls within the range.
func (s *Store) ListInRange(start, end time.Time) []Task {
	s.mu.RLock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if t.IsRepeating() {
			occs, err := Expand(*t, start, end)
			if err != nil {
				slog.Warn("skipping task with bad repeat rule", "task_id", t.ID, "error", err)
				continue
			}
			if len(occs) > 0 {
				out = append(out, t.Clone())
			}
			continue
		}
		if t.StartTime.Before(end) && !t.EndTime.Before(start) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sortTasks(out)
	return out
}

// ListByTag returns snapshots of tasks carrying the tag.
func (s *Store) ListByTag(tag string) []Task {
	s.mu.RLock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		for _, have := range t.Tags {
			if have == tag {
				out = append(out, t.Clone())
				break
			}
		}
	}
	s.mu.RUnlock()

	sortTasks(out)
	return out
}

// Search returns snapshots of tasks whose title, description or location
// contains the query, case-insensitively.
func (s *Store) Search(query string) []Task {
	q := strings.ToLower(query)

	s.mu.RLock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Location), q) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sortTasks(out)
	return out
}

// SweepOverdue moves tasks whose window has started and are still pending
// to in_progress, emitting task_updated for each. It returns how many
// tasks transitioned. The trigger scheduler calls this on its cycle.
func (s *Store) SweepOverdue() int {
	now := s.now()

	s.mu.RLock()
	var due []string
	for id, t := range s.tasks {
		if t.Status == StatusPending && !t.IsRepeating() && !t.StartTime.After(now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	status := StatusInProgress
	moved := 0
	for _, id := range due {
		if _, err := s.Update(id, Patch{Status: &status}); err == nil {
			moved++
		}
	}
	if moved > 0 {
		slog.Info("overdue tasks moved to in_progress", "count", moved)
	}
	return moved
}

func (s *Store) persist(t Task) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.SaveTask(t); err != nil {
		return fmt.Errorf("persisting task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) emit(typ string, payload any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(typ, payload)
}

func applyPatch(t Task, p Patch, now time.Time) Task {
	t.UpdatedAt = now
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.StartTime != nil {
		t.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		t.EndTime = *p.EndTime
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
		switch *p.Status {
		case StatusCompleted:
			if t.CompletedAt.IsZero() {
				t.CompletedAt = now
			}
		default:
			t.CompletedAt = time.Time{}
		}
	}
	if p.Tags != nil {
		t.Tags = normalizeTags(*p.Tags)
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.ReminderLeadMinutes != nil {
		t.ReminderLeadMinutes = *p.ReminderLeadMinutes
	}
	if p.Location != nil {
		t.Location = *p.Location
	}
	if p.Dependencies != nil {
		t.Dependencies = normalizeIDs(*p.Dependencies)
	}
	if p.Metadata != nil {
		meta := make(map[string]string, len(*p.Metadata))
		for k, v := range *p.Metadata {
			meta[k] = v
		}
		t.Metadata = meta
	}
	if p.ClearRepeat {
		t.Repeat = nil
	} else if p.Repeat != nil {
		r := *p.Repeat
		if r.Weekdays != nil {
			r.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
		}
		t.Repeat = &r
	}
	return t
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].StartTime.Equal(tasks[j].StartTime) {
			return tasks[i].StartTime.Before(tasks[j].StartTime)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
