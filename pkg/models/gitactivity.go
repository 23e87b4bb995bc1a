package models

import "time"

// GitActivityType enumerates the git operations the system correlates to
// sessions.
type GitActivityType string

const (
	GitActivityCommit   GitActivityType = "commit"
	GitActivityPush     GitActivityType = "push"
	GitActivityCheckout GitActivityType = "checkout"
	GitActivityMerge    GitActivityType = "merge"
)

// GitActivity is a single git operation observed on a device/workspace,
// optionally correlated to the session that was active at the time.
// ID equals the source event's ID, so the unique constraint on ID makes
// the insert idempotent under at-least-once redelivery.
type GitActivity struct {
	ID            string
	WorkspaceID   string
	DeviceID      string
	SessionID     *string
	Type          GitActivityType
	Branch        string
	CommitSHA     *string
	Message       *string
	Insertions    *int
	Deletions     *int
	FilesChanged  *int
	Timestamp     time.Time
	Data          map[string]any
}
