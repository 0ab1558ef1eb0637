package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kolapsis/dateflow/internal/task"
)

const timeFormat = time.RFC3339Nano

// SQLiteStore persists tasks, plugin settings and the reminder log using
// modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'pending',
		tags TEXT NOT NULL DEFAULT '[]',
		color TEXT NOT NULL DEFAULT '',
		reminder_lead_minutes INTEGER NOT NULL DEFAULT 0,
		repeat_kind TEXT NOT NULL DEFAULT '',
		repeat_interval INTEGER NOT NULL DEFAULT 0,
		repeat_end_date TEXT NOT NULL DEFAULT '',
		repeat_end_count INTEGER NOT NULL DEFAULT 0,
		repeat_weekdays TEXT NOT NULL DEFAULT '',
		repeat_month_day INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX idx_tasks_start_time ON tasks(start_time);
	CREATE INDEX idx_tasks_status ON tasks(status);`,

	`CREATE TABLE plugin_settings (
		plugin_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (plugin_id, key)
	);`,

	`CREATE TABLE reminder_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		occurrence_index INTEGER NOT NULL,
		fire_at TEXT NOT NULL,
		fired_at TEXT NOT NULL,
		UNIQUE (task_id, occurrence_index, fire_at)
	);
	CREATE INDEX idx_reminder_log_fire_at ON reminder_log(fire_at);`,

	`ALTER TABLE tasks ADD COLUMN parent_id TEXT NOT NULL DEFAULT '';
	ALTER TABLE tasks ADD COLUMN dependencies TEXT NOT NULL DEFAULT '[]';
	CREATE INDEX idx_tasks_parent_id ON tasks(parent_id);`,
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
// The database file is created with 0600 permissions and its parent
// directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tasks ---

// SaveTask inserts or replaces a task row.
func (s *SQLiteStore) SaveTask(t task.Task) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}

	var kind string
	var interval, endCount, monthDay int
	var endDate, weekdays string
	if t.Repeat != nil {
		kind = string(t.Repeat.Kind)
		interval = t.Repeat.Interval
		endCount = t.Repeat.EndCount
		monthDay = t.Repeat.MonthDay
		endDate = formatTime(t.Repeat.EndDate)
		weekdays = encodeWeekdays(t.Repeat.Weekdays)
	}

	_, err = s.db.Exec(`INSERT INTO tasks (id, title, description, start_time, end_time,
		created_at, updated_at, priority, status, tags, color, reminder_lead_minutes,
		repeat_kind, repeat_interval, repeat_end_date, repeat_end_count,
		repeat_weekdays, repeat_month_day, completed_at, location, metadata,
		parent_id, dependencies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		title = excluded.title, description = excluded.description,
		start_time = excluded.start_time, end_time = excluded.end_time,
		updated_at = excluded.updated_at, priority = excluded.priority,
		status = excluded.status, tags = excluded.tags, color = excluded.color,
		reminder_lead_minutes = excluded.reminder_lead_minutes,
		repeat_kind = excluded.repeat_kind, repeat_interval = excluded.repeat_interval,
		repeat_end_date = excluded.repeat_end_date, repeat_end_count = excluded.repeat_end_count,
		repeat_weekdays = excluded.repeat_weekdays, repeat_month_day = excluded.repeat_month_day,
		completed_at = excluded.completed_at, location = excluded.location,
		metadata = excluded.metadata, parent_id = excluded.parent_id,
		dependencies = excluded.dependencies`,
		t.ID, t.Title, t.Description, formatTime(t.StartTime), formatTime(t.EndTime),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), t.Priority, string(t.Status),
		string(tags), t.Color, t.ReminderLeadMinutes,
		kind, interval, endDate, endCount, weekdays, monthDay,
		formatTime(t.CompletedAt), t.Location, string(meta),
		t.ParentID, string(deps))
	if err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

// DeleteTask removes a task row and its reminder log entries.
func (s *SQLiteStore) DeleteTask(id string) error {
	if _, err := s.db.Exec("DELETE FROM reminder_log WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("deleting reminder log: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// LoadTasks returns every persisted task.
func (s *SQLiteStore) LoadTasks() ([]task.Task, error) {
	rows, err := s.db.Query(`SELECT id, title, description, start_time, end_time,
		created_at, updated_at, priority, status, tags, color, reminder_lead_minutes,
		repeat_kind, repeat_interval, repeat_end_date, repeat_end_count,
		repeat_weekdays, repeat_month_day, completed_at, location, metadata,
		parent_id, dependencies
		FROM tasks ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (task.Task, error) {
	var t task.Task
	var startTime, endTime, createdAt, updatedAt, completedAt string
	var status, tags, meta, deps string
	var kind, endDate, weekdays string
	var interval, endCount, monthDay int

	err := rows.Scan(&t.ID, &t.Title, &t.Description, &startTime, &endTime,
		&createdAt, &updatedAt, &t.Priority, &status, &tags, &t.Color,
		&t.ReminderLeadMinutes, &kind, &interval, &endDate, &endCount,
		&weekdays, &monthDay, &completedAt, &t.Location, &meta,
		&t.ParentID, &deps)
	if err != nil {
		return task.Task{}, fmt.Errorf("scanning task: %w", err)
	}

	t.Status = task.Status(status)
	t.StartTime = parseTime(startTime)
	t.EndTime = parseTime(endTime)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.CompletedAt = parseTime(completedAt)

	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return task.Task{}, fmt.Errorf("decoding tags for %s: %w", t.ID, err)
		}
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return task.Task{}, fmt.Errorf("decoding metadata for %s: %w", t.ID, err)
		}
	}
	if deps != "" && deps != "null" {
		if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
			return task.Task{}, fmt.Errorf("decoding dependencies for %s: %w", t.ID, err)
		}
	}

	if kind != "" {
		t.Repeat = &task.RepeatRule{
			Kind:     task.RepeatKind(kind),
			Interval: interval,
			EndDate:  parseTime(endDate),
			EndCount: endCount,
			Weekdays: decodeWeekdays(weekdays),
			MonthDay: monthDay,
		}
	}

	return t, nil
}

// --- Plugin settings ---

// GetPluginSetting returns the stored value for a plugin setting. The
// second return reports whether the key exists.
func (s *SQLiteStore) GetPluginSetting(pluginID, key string) (string, bool, error) {
	var value string
	row := s.db.QueryRow("SELECT value FROM plugin_settings WHERE plugin_id = ? AND key = ?", pluginID, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading plugin setting: %w", err)
	}
	return value, true, nil
}

// SetPluginSetting stores a plugin setting, replacing any previous value.
func (s *SQLiteStore) SetPluginSetting(pluginID, key, value string) error {
	_, err := s.db.Exec(`INSERT INTO plugin_settings (plugin_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plugin_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		pluginID, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("writing plugin setting: %w", err)
	}
	return nil
}

// --- Reminder log ---

// RecordFiring appends a fired reminder to the audit log. Recording the
// same (task, occurrence, fire time) twice is a no-op.
func (s *SQLiteStore) RecordFiring(taskID string, occurrenceIndex int, fireAt time.Time) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO reminder_log (task_id, occurrence_index, fire_at, fired_at)
		VALUES (?, ?, ?, ?)`,
		taskID, occurrenceIndex, formatTime(fireAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("recording firing: %w", err)
	}
	return nil
}

// ListFirings returns log entries whose fire time is at or after since.
func (s *SQLiteStore) ListFirings(since time.Time) ([]FiringRecord, error) {
	rows, err := s.db.Query(`SELECT id, task_id, occurrence_index, fire_at, fired_at
		FROM reminder_log WHERE fire_at >= ? ORDER BY fire_at`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying reminder log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FiringRecord
	for rows.Next() {
		var r FiringRecord
		var fireAt, firedAt string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.OccurrenceIndex, &fireAt, &firedAt); err != nil {
			return nil, fmt.Errorf("scanning firing: %w", err)
		}
		r.FireAt = parseTime(fireAt)
		r.FiredAt = parseTime(firedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneFirings discards log entries older than the given horizon start.
func (s *SQLiteStore) PruneFirings(before time.Time) error {
	_, err := s.db.Exec("DELETE FROM reminder_log WHERE fire_at < ?", formatTime(before))
	if err != nil {
		return fmt.Errorf("pruning reminder log: %w", err)
	}
	return nil
}

// --- Helpers ---

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, time.Weekday(n))
	}
	return out
}
