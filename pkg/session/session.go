// Package session implements the session lifecycle state machine
// (spec.md §4.D): the optimistic transitionSession primitive and the
// session.start/session.end/session.compact event handlers built on it.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devtrack/eventpipeline/pkg/models"
)

// Store provides the session lifecycle operations against Postgres.
type Store struct {
	db *sql.DB
}

// New wraps a *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// TransitionResult reports the outcome of an optimistic transition.
type TransitionResult struct {
	Success bool
	Reason  string // set when Success is false
}

// Transition performs a conditional update: lifecycle moves to `to` only
// if the row's current lifecycle is one of allowedFrom. Zero rows
// affected means a losing race or an invalid transition — callers must
// not retry blindly (spec.md §4.D).
//
// fields is applied via a fixed set of optional setters rather than a
// generic map, keeping the SQL static and injection-safe.
func (s *Store) Transition(ctx context.Context, id string, allowedFrom []models.Lifecycle, to models.Lifecycle, fields TransitionFields) (TransitionResult, error) {
	placeholders := make([]any, 0, len(allowedFrom)+4)
	placeholders = append(placeholders, to, time.Now().UTC(), id)

	setClauses := "lifecycle = $1, updated_at = $2"
	argIdx := 4
	if fields.EndedAt != nil {
		setClauses += fmt.Sprintf(", ended_at = $%d", argIdx)
		placeholders = append(placeholders, *fields.EndedAt)
		argIdx++
	}
	if fields.EndReason != nil {
		setClauses += fmt.Sprintf(", end_reason = $%d", argIdx)
		placeholders = append(placeholders, *fields.EndReason)
		argIdx++
	}
	if fields.DurationMs != nil {
		setClauses += fmt.Sprintf(", duration_ms = $%d", argIdx)
		placeholders = append(placeholders, *fields.DurationMs)
		argIdx++
	}
	if fields.ParseStatus != nil {
		setClauses += fmt.Sprintf(", parse_status = $%d", argIdx)
		placeholders = append(placeholders, *fields.ParseStatus)
		argIdx++
	}
	if fields.Summary != nil {
		setClauses += fmt.Sprintf(", summary = $%d", argIdx)
		placeholders = append(placeholders, *fields.Summary)
		argIdx++
	}
	if fields.CostEstimateUSD != nil {
		setClauses += fmt.Sprintf(", cost_estimate_usd = $%d", argIdx)
		placeholders = append(placeholders, *fields.CostEstimateUSD)
		argIdx++
	}

	fromPlaceholders := make([]string, len(allowedFrom))
	for i, lc := range allowedFrom {
		fromPlaceholders[i] = fmt.Sprintf("$%d", argIdx)
		placeholders = append(placeholders, lc)
		argIdx++
	}

	query := fmt.Sprintf(
		`UPDATE sessions SET %s WHERE id = $3 AND lifecycle IN (%s)`,
		setClauses, joinPlaceholders(fromPlaceholders),
	)

	res, err := s.db.ExecContext(ctx, query, placeholders...)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("session: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TransitionResult{}, fmt.Errorf("session: rows affected: %w", err)
	}
	if n == 0 {
		return TransitionResult{Success: false, Reason: "no matching row in allowed_from (losing race or invalid transition)"}, nil
	}
	return TransitionResult{Success: true}, nil
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += ", " + p
	}
	return out
}

// TransitionFields is the optional set of columns a transition may also
// update in the same statement.
type TransitionFields struct {
	EndedAt         *time.Time
	EndReason       *string
	DurationMs      *int64
	ParseStatus     *models.ParseStatus
	Summary         *string
	CostEstimateUSD *float64
}

// SetTranscriptKey records the object-store key for a session's raw
// transcript upload and returns the lifecycle observed by the same
// statement via RETURNING, so the caller can decide whether to trigger
// the pipeline without a second round trip racing session.end
// (spec.md §4.I point 6).
func (s *Store) SetTranscriptKey(ctx context.Context, id, key string) (models.Lifecycle, error) {
	var lifecycle models.Lifecycle
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions SET transcript_s3_key = $1, updated_at = $2
		WHERE id = $3
		RETURNING lifecycle`,
		key, time.Now().UTC(), id).Scan(&lifecycle)
	if err != nil {
		return "", fmt.Errorf("session: setting transcript key: %w", err)
	}
	return lifecycle, nil
}

// Get fetches a session by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, device_id, lifecycle, parse_status, cwd, git_branch,
		       git_remote, model, started_at, ended_at, duration_ms, end_reason,
		       transcript_s3_key, summary, cost_estimate_usd, compact_sequence, updated_at
		FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// List returns sessions ordered by most recently started, optionally
// filtered to one workspace.
func (s *Store) List(ctx context.Context, workspaceID string) ([]models.Session, error) {
	query := `
		SELECT id, workspace_id, device_id, lifecycle, parse_status, cwd, git_branch,
		       git_remote, model, started_at, ended_at, duration_ms, end_reason,
		       transcript_s3_key, summary, cost_estimate_usd, compact_sequence, updated_at
		FROM sessions`
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = $1`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY started_at DESC LIMIT 200`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session: listing: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(
			&sess.ID, &sess.WorkspaceID, &sess.DeviceID, &sess.Lifecycle, &sess.ParseStatus,
			&sess.CWD, &sess.GitBranch, &sess.GitRemote, &sess.Model, &sess.StartedAt,
			&sess.EndedAt, &sess.DurationMs, &sess.EndReason, &sess.TranscriptS3Key,
			&sess.Summary, &sess.CostEstimateUSD, &sess.CompactSequence, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("session: scanning row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Timeline returns the events belonging to a session in timestamp order,
// the merged git-activity-and-event view the dashboard renders.
func (s *Store) Timeline(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, timestamp, device_id, workspace_id, session_id, data, blob_refs, ingested_at
		FROM events WHERE session_id = $1 ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: timeline: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var dataJSON, blobRefsJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Timestamp, &ev.DeviceID, &ev.WorkspaceID,
			&ev.SessionID, &dataJSON, &blobRefsJSON, &ev.IngestedAt); err != nil {
			return nil, fmt.Errorf("session: scanning event: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
			return nil, fmt.Errorf("session: decoding event data: %w", err)
		}
		if err := json.Unmarshal(blobRefsJSON, &ev.BlobRefs); err != nil {
			return nil, fmt.Errorf("session: decoding event blob_refs: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.ID, &sess.WorkspaceID, &sess.DeviceID, &sess.Lifecycle, &sess.ParseStatus,
		&sess.CWD, &sess.GitBranch, &sess.GitRemote, &sess.Model, &sess.StartedAt,
		&sess.EndedAt, &sess.DurationMs, &sess.EndReason, &sess.TranscriptS3Key,
		&sess.Summary, &sess.CostEstimateUSD, &sess.CompactSequence, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
