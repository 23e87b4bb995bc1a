// Package gitcorrelate correlates a git event to the session that was
// active on the same (workspace, device) at the event's timestamp
// (spec.md §4.E), and persists the resulting GitActivity row alongside a
// same-transaction update of the source event's session_id.
package gitcorrelate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devtrack/eventpipeline/pkg/models"
)

// Correlation is the result of matching a git event to an active session.
type Correlation struct {
	SessionID  *string
	Confidence string // "exact" or "none"
}

// Correlator persists git activity and resolves session correlation
// directly against Postgres.
type Correlator struct {
	db *sql.DB
}

// New wraps a *sql.DB.
func New(db *sql.DB) *Correlator {
	return &Correlator{db: db}
}

// Correlate finds the session owned by (workspaceID, deviceID) whose
// interval [started_at, coalesce(ended_at, now)] contains t, preferring
// the most recently started one.
func (c *Correlator) Correlate(ctx context.Context, workspaceID, deviceID string, t time.Time) (Correlation, error) {
	var sessionID string
	err := c.db.QueryRowContext(ctx, `
		SELECT id FROM sessions
		WHERE workspace_id = $1 AND device_id = $2
		  AND started_at <= $3 AND coalesce(ended_at, now()) >= $3
		ORDER BY started_at DESC
		LIMIT 1`,
		workspaceID, deviceID, t).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return Correlation{Confidence: "none"}, nil
	}
	if err != nil {
		return Correlation{}, fmt.Errorf("gitcorrelate: querying active session: %w", err)
	}
	return Correlation{SessionID: &sessionID, Confidence: "exact"}, nil
}

// Activity is the data needed to persist one git_activity row, shared by
// every git.* handler.
type Activity struct {
	EventID      string
	WorkspaceID  string
	DeviceID     string
	Type         models.GitActivityType
	Branch       string
	CommitSHA    *string
	Message      *string
	Insertions   *int
	Deletions    *int
	FilesChanged *int
	Timestamp    time.Time
	Data         map[string]any
}

// Persist correlates activity to a session, then inserts the git_activity
// row and (if a session was found) updates the source event's session_id
// in the same transaction — so either both reflect correlation or
// neither does (spec.md §4.E, Testable Property 5).
func (c *Correlator) Persist(ctx context.Context, a Activity) error {
	correlation, err := c.Correlate(ctx, a.WorkspaceID, a.DeviceID, a.Timestamp)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("gitcorrelate: begin tx: %w", err)
	}
	defer tx.Rollback()

	dataJSON, err := marshalData(a.Data)
	if err != nil {
		return fmt.Errorf("gitcorrelate: marshaling data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO git_activity (id, workspace_id, device_id, session_id, type, branch,
		                           commit_sha, message, insertions, deletions, files_changed,
		                           timestamp, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		a.EventID, a.WorkspaceID, a.DeviceID, correlation.SessionID, a.Type, a.Branch,
		a.CommitSHA, a.Message, a.Insertions, a.Deletions, a.FilesChanged, a.Timestamp, dataJSON)
	if err != nil {
		return fmt.Errorf("gitcorrelate: inserting git_activity: %w", err)
	}

	if correlation.SessionID != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE events SET session_id = $1 WHERE id = $2 AND session_id IS NULL`,
			*correlation.SessionID, a.EventID)
		if err != nil {
			return fmt.Errorf("gitcorrelate: updating event session_id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("gitcorrelate: commit: %w", err)
	}
	return nil
}
