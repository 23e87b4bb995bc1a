package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtrack/eventpipeline/pkg/pipeline"
)

func TestReclaimerEnqueuesStuckSessionsPastThreshold(t *testing.T) {
	client := newTestDB(t)
	ctx := context.Background()

	sessionID := "S1"
	transcript := `{"role":"user","timestamp":"2025-01-01T00:00:00Z","content":[{"type":"text","text":"hi"}]}`
	seedEndedSession(t, client, sessionID, transcript)

	// Backdate ended_at past the threshold so the session reads as stuck
	// rather than merely awaiting its normal enqueue.
	past := time.Now().Add(-2 * pipeline.OrphanThreshold)
	_, err := client.DB().ExecContext(ctx, `UPDATE sessions SET ended_at = $1 WHERE id = $2`, past, sessionID)
	require.NoError(t, err)

	runner := &recordingRunner{}
	pool := pipeline.NewPool(1, 4, runner)
	pool.Start(ctx)
	defer pool.Stop()

	reclaimer := pipeline.NewReclaimer(client.DB(), pool)
	require.NoError(t, reclaimer.ScanOnce(ctx))

	assert.Eventually(t, func() bool {
		seen := runner.snapshot()
		return len(seen) == 1 && seen[0] == sessionID
	}, time.Second, 10*time.Millisecond)
}

func TestReclaimerSkipsSessionsWithinThreshold(t *testing.T) {
	client := newTestDB(t)
	ctx := context.Background()

	sessionID := "S1"
	seedEndedSession(t, client, sessionID, "")

	runner := &recordingRunner{}
	pool := pipeline.NewPool(1, 4, runner)
	reclaimer := pipeline.NewReclaimer(client.DB(), pool)

	require.NoError(t, reclaimer.ScanOnce(ctx))

	_ = sessionID
	assert.Equal(t, 0, pool.Health().QueueDepth)
	assert.Empty(t, runner.snapshot())
}
