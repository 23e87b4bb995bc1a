// Package eventlog is the durable, replayable ingest log (spec.md §4.B).
// Every accepted envelope is appended to a Redis Stream before the HTTP
// handler acknowledges the client; a consumer group drives at-least-once
// delivery to the event processor with ack/pending/reclaim semantics.
// Retry/backoff shape is grounded on the streaming reader loop in the
// wider pack's Redis-Streams consumer (see DESIGN.md).
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamKey is the single Redis Stream all envelopes are appended to.
	// One stream (not per-workspace) keeps ordering simple and consumer
	// group bookkeeping centralized; fan-out by workspace happens after
	// processing, not in the log itself.
	StreamKey = "devtrack:ingest"

	// ConsumerGroup is the sole consumer group driving the event processor.
	ConsumerGroup = "processors"
)

// Record is one durable log entry, ready for the processor to unmarshal
// its envelope.
type Record struct {
	ID      string // Redis Stream entry id (e.g. "1700000000000-0")
	Payload []byte // JSON-encoded envelope
}

// Log wraps a Redis client with the append/read/ack operations the ingest
// pipeline needs.
type Log struct {
	rdb *redis.Client
}

// New wraps an already-constructed Redis client.
func New(rdb *redis.Client) *Log {
	return &Log{rdb: rdb}
}

// NewFromURL parses a redis:// URL (spec.md §6's redis_url) and connects.
func NewFromURL(url string) (*Log, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("eventlog: parsing redis url: %w", err)
	}
	return &Log{rdb: redis.NewClient(opts)}, nil
}

// EnsureGroup creates the consumer group if it doesn't already exist,
// starting from the beginning of the stream ("0") so a fresh deployment
// replays nothing it hasn't seen, and creating the stream itself via
// MKSTREAM if empty.
func (l *Log) EnsureGroup(ctx context.Context) error {
	err := l.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroupErr(err) {
			return nil
		}
		return fmt.Errorf("eventlog: creating consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Append durably appends an envelope, returning the stream entry id. The
// caller should not acknowledge the HTTP request to the device until this
// returns successfully.
func (l *Log) Append(ctx context.Context, envelope any) (string, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("eventlog: marshaling envelope: %w", err)
	}
	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("eventlog: appending: %w", err)
	}
	return id, nil
}

// ReadPending reads up to count new (never-delivered) entries for
// consumer, blocking up to block waiting for more if none are
// immediately available.
func (l *Log) ReadPending(ctx context.Context, consumer string, count int64, block time.Duration) ([]Record, error) {
	streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: reading group: %w", err)
	}
	return toRecords(streams), nil
}

// Ack acknowledges successful processing of id, removing it from the
// consumer group's pending entries list.
func (l *Log) Ack(ctx context.Context, id string) error {
	if err := l.rdb.XAck(ctx, StreamKey, ConsumerGroup, id).Err(); err != nil {
		return fmt.Errorf("eventlog: acking %s: %w", id, err)
	}
	return nil
}

// ClaimStale reclaims pending entries idle for at least minIdle, handing
// them to consumer for a retry. Used by the orphan/stuck-entry recovery
// loop so a crashed processor's in-flight work is not lost.
func (l *Log) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Record, error) {
	pending, err := l.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamKey,
		Group:  ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("eventlog: listing pending: %w", err)
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	msgs, err := l.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("eventlog: claiming stale entries: %w", err)
	}

	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, recordFromMessage(m))
	}
	return records, nil
}

func toRecords(streams []redis.XStream) []Record {
	var records []Record
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			records = append(records, recordFromMessage(msg))
		}
	}
	return records
}

func recordFromMessage(msg redis.XMessage) Record {
	payload, _ := msg.Values["payload"].(string)
	return Record{ID: msg.ID, Payload: []byte(payload)}
}

// Close releases the underlying Redis client.
func (l *Log) Close() error {
	return l.rdb.Close()
}
