// Package sched drives the real-time trigger loop that fires reminders at
// the correct wall-clock moments.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/store"
	"github.com/kolapsis/dateflow/internal/task"
)

// State is the scheduler's position in its idle → armed → firing cycle.
type State string

const (
	StateIdle   State = "idle"
	StateArmed  State = "armed"
	StateFiring State = "firing"
)

// ReminderDueEvent is the payload of a reminder_due event.
type ReminderDueEvent struct {
	TaskID          string
	OccurrenceIndex int
	FireTime        time.Time
}

// TaskSource is the store view the scheduler reads. *task.Store satisfies it.
type TaskSource interface {
	ListAll() []task.Task
	SweepOverdue() int
}

// FiringLog persists fired reminders so a restart within the horizon does
// not re-fire them. *store.SQLiteStore satisfies it; nil disables logging.
type FiringLog interface {
	RecordFiring(taskID string, occurrenceIndex int, fireAt time.Time) error
	ListFirings(since time.Time) ([]store.FiringRecord, error)
	PruneFirings(before time.Time) error
}

// Firing is a pending or completed reminder within the look-ahead horizon.
type Firing struct {
	TaskID          string
	OccurrenceIndex int
	FireAt          time.Time
	Fired           bool
}

type firingKey struct {
	taskID string
	index  int
	fireAt int64
}

// Scheduler computes the next wake-up instant across all pending reminders
// within a rolling look-ahead horizon, sleeps until then or until a store
// mutation interrupts it, and emits reminder_due events for firings that
// are still valid against current store state when it wakes.
type Scheduler struct {
	source  TaskSource
	bus     *event.Bus
	log     FiringLog
	horizon time.Duration

	// maxWait bounds how long one armed sleep lasts even with no known
	// firing, which also bounds exposure to system clock changes: the
	// horizon is always recomputed from current wall-clock time.
	maxWait time.Duration

	now func() time.Time

	mu    sync.Mutex
	state State
	fired map[firingKey]struct{}
	wake  chan struct{}
	subs  []*event.Subscription
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHorizon sets the look-ahead horizon (default 48h).
func WithHorizon(d time.Duration) Option {
	return func(s *Scheduler) { s.horizon = d }
}

// WithMaxWait sets the rescan floor (default 5m).
func WithMaxWait(d time.Duration) Option {
	return func(s *Scheduler) { s.maxWait = d }
}

// WithFiringLog attaches the persistent reminder log.
func WithFiringLog(log FiringLog) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler reading tasks from source and emitting on bus.
func New(source TaskSource, bus *event.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:  source,
		bus:     bus,
		horizon: 48 * time.Hour,
		maxWait: 5 * time.Minute,
		now:     time.Now,
		state:   StateIdle,
		fired:   make(map[firingKey]struct{}),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Wake interrupts the current armed sleep. Store mutation events call this
// through the scheduler's bus subscriptions; it never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the trigger loop until ctx is cancelled. Any error while
// recomputing the horizon is isolated per task; the loop itself always
// re-arms.
func (s *Scheduler) Run(ctx context.Context) {
	s.subscribeMutations()
	defer s.unsubscribeMutations()
	s.loadFiredLog()

	slog.Info("scheduler started", "horizon", s.horizon, "max_wait", s.maxWait)

	for {
		now := s.now()
		s.source.SweepOverdue()
		s.pruneFired(now)

		due, next := s.collect(now)

		if len(due) > 0 {
			s.setState(StateFiring)
			s.fire(due)
		}

		wait := s.maxWait
		if !next.IsZero() {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		s.setState(StateArmed)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateIdle)
			slog.Info("scheduler stopped")
			return
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
		s.setState(StateIdle)
	}
}

// collect expands every task over the look-ahead horizon and splits the
// resulting firings into those due now and the nearest future wake target
// (the earliest pending fire time or occurrence boundary).
func (s *Scheduler) collect(now time.Time) (due []Firing, next time.Time) {
	winStart := now.Add(-s.horizon)
	winEnd := now.Add(s.horizon)

	for _, t := range s.source.ListAll() {
		if t.ReminderLeadMinutes <= 0 {
			continue
		}
		if t.Status == task.StatusCompleted || t.Status == task.StatusCancelled {
			continue
		}
		lead := time.Duration(t.ReminderLeadMinutes) * time.Minute

		// Extend the expansion window by the lead so an occurrence
		// starting just past the horizon still contributes a fire time
		// inside it.
		occs, err := task.Expand(t, winStart, winEnd.Add(lead))
		if err != nil {
			// One task's corrupt rule must not block the others.
			slog.Warn("horizon expansion failed", "task_id", t.ID, "error", err)
			continue
		}

		for _, occ := range occs {
			// A reminder for an occurrence that already started is noise.
			// This also keeps a first run over an existing database from
			// replaying everything in the look-back window.
			if !occ.Start.After(now) {
				continue
			}
			fireAt := occ.Start.Add(-lead)
			if fireAt.Before(winStart) {
				continue
			}
			key := firingKey{taskID: t.ID, index: occ.Index, fireAt: fireAt.Unix()}

			s.mu.Lock()
			_, already := s.fired[key]
			s.mu.Unlock()
			if already {
				continue
			}

			if !fireAt.After(now) {
				due = append(due, Firing{TaskID: t.ID, OccurrenceIndex: occ.Index, FireAt: fireAt})
				continue
			}
			if next.IsZero() || fireAt.Before(next) {
				next = fireAt
			}
			// Occurrence boundaries force a horizon regeneration too,
			// so status sweeps track the wall clock.
			if next.IsZero() || occ.Start.Before(next) {
				next = occ.Start
			}
		}
	}
	return due, next
}

// fire emits reminder_due for each still-valid firing and marks it fired.
// Firings armed earlier but no longer present in the freshly collected set
// (the task was deleted or rescheduled meanwhile) are never emitted: collect
// always works from current store state.
func (s *Scheduler) fire(due []Firing) {
	for _, f := range due {
		key := firingKey{taskID: f.TaskID, index: f.OccurrenceIndex, fireAt: f.FireAt.Unix()}

		s.mu.Lock()
		if _, already := s.fired[key]; already {
			s.mu.Unlock()
			continue
		}
		s.fired[key] = struct{}{}
		s.mu.Unlock()

		if s.log != nil {
			if err := s.log.RecordFiring(f.TaskID, f.OccurrenceIndex, f.FireAt); err != nil {
				slog.Warn("recording firing failed", "task_id", f.TaskID, "error", err)
			}
		}

		slog.Info("reminder due",
			"task_id", f.TaskID,
			"occurrence_index", f.OccurrenceIndex,
			"fire_time", f.FireAt)
		s.bus.Emit(event.ReminderDue, ReminderDueEvent{
			TaskID:          f.TaskID,
			OccurrenceIndex: f.OccurrenceIndex,
			FireTime:        f.FireAt,
		})
	}
}

// subscribeMutations wires store change events to Wake so a mutation
// invalidating the armed target is observed before the next decision point.
func (s *Scheduler) subscribeMutations() {
	onMutation := func(event.Event) error {
		s.Wake()
		return nil
	}
	for _, typ := range []string{event.TaskCreated, event.TaskUpdated, event.TaskDeleted, event.TaskCompleted} {
		s.subs = append(s.subs, s.bus.Subscribe(typ, onMutation))
	}
}

func (s *Scheduler) unsubscribeMutations() {
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil
}

// loadFiredLog seeds the fired set from the persistent log so a restart
// within the horizon does not re-fire reminders.
func (s *Scheduler) loadFiredLog() {
	if s.log == nil {
		return
	}
	records, err := s.log.ListFirings(s.now().Add(-s.horizon))
	if err != nil {
		slog.Warn("loading reminder log failed", "error", err)
		return
	}
	s.mu.Lock()
	for _, r := range records {
		s.fired[firingKey{taskID: r.TaskID, index: r.OccurrenceIndex, fireAt: r.FireAt.Unix()}] = struct{}{}
	}
	s.mu.Unlock()
	if len(records) > 0 {
		slog.Info("reminder log loaded", "entries", len(records))
	}
}

// pruneFired discards fired entries older than the horizon, bounding
// memory, and prunes the persistent log to match.
func (s *Scheduler) pruneFired(now time.Time) {
	cutoff := now.Add(-s.horizon).Unix()

	s.mu.Lock()
	for key := range s.fired {
		if key.fireAt < cutoff {
			delete(s.fired, key)
		}
	}
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.PruneFirings(now.Add(-s.horizon)); err != nil {
			slog.Warn("pruning reminder log failed", "error", err)
		}
	}
}
