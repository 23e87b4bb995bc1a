package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/devtrack/eventpipeline/pkg/eventlog"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// ReadCount bounds how many entries a single ReadPending call fetches.
const ReadCount = 50

// ReadBlock is how long ReadPending waits for new entries before
// returning empty, so the consumer loop can still observe ctx
// cancellation promptly between reads.
const ReadBlock = 2 * time.Second

// Consumer drains eventlog.Log, decoding each entry back into an envelope
// and handing it to Processor.Process, acking only on success — failed
// decodes are acked anyway (a malformed payload will never decode; retrying
// it forever would wedge the stream) while processing errors are left
// unacked for eventlog.Reclaimer to retry. Mirrors the teacher's
// append/process/ack separation, adapted from a DB-polling worker to a
// Redis Streams consumer group since this rewrite's durable log is
// go-redis/v9 rather than ent.
type Consumer struct {
	Log       *eventlog.Log
	Processor *Processor
	Name      string // consumer identity within the group
}

// Run drains pending entries until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		records, err := c.Log.ReadPending(ctx, c.Name, ReadCount, ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("ingest: consumer read failed", "consumer", c.Name, "error", err)
			continue
		}
		for _, rec := range records {
			c.handle(ctx, rec)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, rec eventlog.Record) {
	var env models.Envelope
	if err := json.Unmarshal(rec.Payload, &env); err != nil {
		slog.Error("ingest: discarding malformed log entry", "entry_id", rec.ID, "error", err)
		if ackErr := c.Log.Ack(ctx, rec.ID); ackErr != nil {
			slog.Error("ingest: failed to ack malformed entry", "entry_id", rec.ID, "error", ackErr)
		}
		return
	}

	if _, err := c.Processor.Process(ctx, env); err != nil {
		slog.Error("ingest: processing failed, leaving unacked for reclaim", "entry_id", rec.ID, "event_id", env.ID, "error", err)
		return
	}

	if err := c.Log.Ack(ctx, rec.ID); err != nil {
		slog.Error("ingest: failed to ack processed entry", "entry_id", rec.ID, "error", err)
	}
}
