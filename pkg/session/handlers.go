package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devtrack/eventpipeline/pkg/apperr"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// StartPayload is the subset of session.start's payload the handler needs.
type StartPayload struct {
	CCSessionID string
	CWD         string
	GitBranch   *string
	GitRemote   *string
	Model       *string
}

// HandleStart inserts a new session row at lifecycle=detected. A
// pre-existing row is left untouched: the start event's fields are
// authoritative only at first observation (spec.md §4.D).
func (s *Store) HandleStart(ctx context.Context, workspaceID, deviceID string, startedAt time.Time, payload StartPayload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, device_id, lifecycle, parse_status, cwd,
		                       git_branch, git_remote, model, started_at, compact_sequence, updated_at)
		VALUES ($1, $2, $3, 'detected', 'pending', $4, $5, $6, $7, $8, 0, $8)
		ON CONFLICT (id) DO NOTHING`,
		payload.CCSessionID, workspaceID, deviceID, payload.CWD,
		payload.GitBranch, payload.GitRemote, payload.Model, startedAt)
	if err != nil {
		return fmt.Errorf("session: handling start: %w", err)
	}
	return nil
}

// EndPayload is the subset of session.end's payload the handler needs.
type EndPayload struct {
	CCSessionID string
	DurationMs  int64
	EndReason   string
}

// EndResult reports whether the pipeline should now be triggered.
type EndResult struct {
	Transitioned    bool
	TriggerPipeline bool
}

// HandleEnd transitions a session to ended, backfilling duration_ms from
// started_at when the reported value is non-positive (spec.md's
// duration-backfill tolerance for hook scripts). If the session already
// carries a transcript key, the caller should enqueue the pipeline.
func (s *Store) HandleEnd(ctx context.Context, eventTimestamp time.Time, payload EndPayload) (EndResult, error) {
	sess, err := s.Get(ctx, payload.CCSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return EndResult{}, fmt.Errorf("session: handling end: %w: %s", apperr.ErrNotFound, payload.CCSessionID)
	}
	if err != nil {
		return EndResult{}, fmt.Errorf("session: handling end: %w", err)
	}

	durationMs := payload.DurationMs
	if durationMs <= 0 {
		d := eventTimestamp.Sub(sess.StartedAt).Milliseconds()
		if d < 0 {
			d = 0
		}
		durationMs = d
	}

	endReason := payload.EndReason
	result, err := s.Transition(ctx, payload.CCSessionID,
		[]models.Lifecycle{models.LifecycleDetected, models.LifecycleCapturing},
		models.LifecycleEnded,
		TransitionFields{EndedAt: &eventTimestamp, EndReason: &endReason, DurationMs: &durationMs})
	if err != nil {
		return EndResult{}, err
	}
	if !result.Success {
		slog.Warn("session.end: transition lost race or was invalid", "session_id", payload.CCSessionID, "reason", result.Reason)
		return EndResult{}, nil
	}

	return EndResult{Transitioned: true, TriggerPipeline: sess.TranscriptS3Key != nil}, nil
}

// CompactPayload is the subset of session.compact's payload the handler
// needs.
type CompactPayload struct {
	CCSessionID     string
	CompactSequence int
}

// HandleCompact records the compaction sequence hint the transcript
// parser will treat as a non-decreasing watermark. Per SPEC_FULL.md's
// Open Question decision, compaction never changes lifecycle. A sequence
// not greater than the stored one is rejected silently: accepted is false
// and no error is returned.
func (s *Store) HandleCompact(ctx context.Context, payload CompactPayload) (accepted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET compact_sequence = $1, updated_at = $2
		WHERE id = $3 AND compact_sequence < $1`,
		payload.CompactSequence, time.Now().UTC(), payload.CCSessionID)
	if err != nil {
		return false, fmt.Errorf("session: handling compact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session: rows affected: %w", err)
	}
	return n > 0, nil
}
