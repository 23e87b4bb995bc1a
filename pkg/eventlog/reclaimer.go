package eventlog

import (
	"context"
	"log/slog"
	"time"
)

// Reclaimer periodically claims pending entries that have sat idle longer
// than VisibilityTimeout and hands them to Handler for reprocessing. This
// is how a crashed or stalled processor's in-flight work gets retried
// instead of stuck forever (spec.md §4.B's pending-entry recovery).
type Reclaimer struct {
	Log               *Log
	Consumer          string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Handler           func(ctx context.Context, rec Record) error
}

// Run polls until ctx is cancelled. Errors from a single poll are logged
// and retried with exponential backoff, capped at 30s, mirroring the
// wider pack's stream-reader retry loop.
func (r *Reclaimer) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := r.Log.ClaimStale(ctx, r.Consumer, r.VisibilityTimeout, 100)
		if err != nil {
			slog.Error("eventlog: reclaim poll failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = time.Second

		for _, rec := range records {
			if err := r.Handler(ctx, rec); err != nil {
				slog.Error("eventlog: reclaimed record handler failed", "entry_id", rec.ID, "error", err)
				continue
			}
			if err := r.Log.Ack(ctx, rec.ID); err != nil {
				slog.Error("eventlog: failed to ack reclaimed record", "entry_id", rec.ID, "error", err)
			}
		}
	}
}
