// Package store persists tasks, plugin settings, and the reminder audit log.
package store

import "time"

// FiringRecord is one entry of the reminder audit log: a reminder that was
// actually emitted for an occurrence.
type FiringRecord struct {
	ID              int64
	TaskID          string
	OccurrenceIndex int
	FireAt          time.Time
	FiredAt         time.Time
}
