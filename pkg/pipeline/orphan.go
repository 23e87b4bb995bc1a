package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// OrphanScanInterval is how often Reclaimer looks for stuck sessions.
const OrphanScanInterval = 2 * time.Minute

// OrphanThreshold is how long a session may sit in "ended" with a
// transcript already uploaded before it is considered stuck rather than
// merely awaiting its pipeline trigger.
const OrphanThreshold = 5 * time.Minute

// Reclaimer periodically re-enqueues sessions that reached "ended" with a
// transcript uploaded but were never picked up by the pipeline — the
// enqueue call that should have triggered them was dropped (pool full) or
// the process crashed between persisting transcript_s3_key and enqueuing.
// Adapted from the teacher's queue.runOrphanDetection/detectAndRecoverOrphans,
// replacing "stale heartbeat" detection (this rewrite has no in-progress
// worker heartbeat to go stale) with "stuck in ended past a threshold."
type Reclaimer struct {
	db   *sql.DB
	pool *Pool
}

// NewReclaimer builds a Reclaimer scanning db and re-enqueuing onto pool.
func NewReclaimer(db *sql.DB, pool *Pool) *Reclaimer {
	return &Reclaimer{db: db, pool: pool}
}

// Run scans on OrphanScanInterval until ctx is canceled. All pods run this
// independently — EnqueueSession is idempotent from the pipeline's point
// of view (Steps.Run's persistence step is itself idempotent on retry).
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(OrphanScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ScanOnce(ctx); err != nil {
				slog.Error("pipeline: orphan scan failed", "error", err)
			}
		}
	}
}

// ScanOnce runs a single reclaim pass immediately, independent of the
// ticker in Run. Exported so callers (and tests) can trigger a scan
// synchronously rather than waiting for OrphanScanInterval to elapse.
func (r *Reclaimer) ScanOnce(ctx context.Context) error {
	threshold := time.Now().Add(-OrphanThreshold)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE lifecycle = 'ended'
		  AND transcript_s3_key IS NOT NULL
		  AND ended_at IS NOT NULL
		  AND ended_at < $1
		ORDER BY ended_at ASC
		LIMIT 100`, threshold)
	if err != nil {
		return fmt.Errorf("querying stuck sessions: %w", err)
	}
	defer rows.Close()

	var stuck []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning stuck session row: %w", err)
		}
		stuck = append(stuck, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(stuck) == 0 {
		return nil
	}

	slog.Warn("pipeline: reclaiming stuck sessions", "count", len(stuck))
	for _, sessionID := range stuck {
		if !r.pool.EnqueueSession(sessionID) {
			slog.Warn("pipeline: reclaim enqueue dropped, will retry next scan", "session_id", sessionID)
			continue
		}
		slog.Info("pipeline: reclaimed stuck session", "session_id", sessionID)
	}
	return nil
}
