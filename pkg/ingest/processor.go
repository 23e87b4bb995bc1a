package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/devtrack/eventpipeline/pkg/identity"
	"github.com/devtrack/eventpipeline/pkg/metrics"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// Status is the outcome of processing a single envelope.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
)

// Result reports what happened to one envelope, including the outcome of
// its handler (if any) without ever propagating the handler's error
// beyond this struct — handler failures are logged, not surfaced
// (spec.md §4.C point 5).
type Result struct {
	Status      Status
	HandlerErr  error
	WorkspaceID string // resolved ULID
}

// Handler processes one already-persisted event. Handler failures are
// caught by the processor and recorded, never propagated to the ingest
// caller.
type Handler func(ctx context.Context, ev models.Event) error

// Processor wires identity resolution, idempotent event persistence, and
// handler dispatch together.
type Processor struct {
	db       *sql.DB
	identity *identity.Resolver
	handlers map[string]Handler
}

// New builds a Processor. Register handlers with RegisterHandler before
// calling Process.
func New(db *sql.DB, resolver *identity.Resolver) *Processor {
	return &Processor{db: db, identity: resolver, handlers: make(map[string]Handler)}
}

// RegisterHandler assigns the handler invoked for a given event type.
func (p *Processor) RegisterHandler(eventType string, h Handler) {
	p.handlers[eventType] = h
}

// Process runs one envelope through validation, identity resolution,
// idempotent persistence, and handler dispatch. The HTTP ingest route
// validates each envelope before it ever reaches the durable log
// (spec.md §4.I); Process re-validates here too, since it is the
// component spec.md §4.C assigns these steps to and a defensive consumer
// should never trust log contents blindly.
func (p *Processor) Process(ctx context.Context, env models.Envelope) (Result, error) {
	if err := ValidateEnvelope(&env); err != nil {
		metrics.EventsRejectedTotal.WithLabelValues("invalid_envelope").Inc()
		return Result{}, fmt.Errorf("ingest: invalid envelope: %w", err)
	}
	if err := ValidatePayload(env.Type, env.Data); err != nil {
		metrics.EventsRejectedTotal.WithLabelValues("invalid_payload").Inc()
		return Result{}, fmt.Errorf("ingest: invalid payload: %w", err)
	}

	cwd, _ := env.Data["cwd"].(string)
	if cwd == "" {
		cwd = "unknown"
	}

	hintBranch := ExtractHints(env.Type, env.Data)
	workspaceID, err := p.identity.ResolveOrCreateWorkspace(ctx, env.WorkspaceID, identity.Hints{DefaultBranch: hintBranch})
	if err != nil {
		return Result{}, fmt.Errorf("ingest: resolving workspace: %w", err)
	}
	if err := p.identity.ResolveOrCreateDevice(ctx, env.DeviceID); err != nil {
		return Result{}, fmt.Errorf("ingest: resolving device: %w", err)
	}
	if err := p.identity.EnsureWorkspaceDeviceLink(ctx, workspaceID, env.DeviceID, cwd); err != nil {
		return Result{}, fmt.Errorf("ingest: linking workspace device: %w", err)
	}

	inserted, err := p.persist(ctx, env, workspaceID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: persisting event: %w", err)
	}
	if !inserted {
		return Result{Status: StatusDuplicate, WorkspaceID: workspaceID}, nil
	}

	metrics.EventsIngestedTotal.WithLabelValues(env.Type).Inc()
	result := Result{Status: StatusProcessed, WorkspaceID: workspaceID}
	if handler, ok := p.handlers[env.Type]; ok {
		ev := models.Event{
			ID: env.ID, Type: env.Type, Timestamp: env.Timestamp, DeviceID: env.DeviceID,
			WorkspaceID: workspaceID, SessionID: env.SessionID, Data: env.Data, BlobRefs: env.BlobRefs,
		}
		if err := handler(ctx, ev); err != nil {
			slog.Error("ingest: handler failed", "type", env.Type, "event_id", env.ID, "error", err)
			result.HandlerErr = err
		}
	}
	return result, nil
}

// persist inserts the event row substituting workspace_id with the
// resolved ULID; a zero-rows-affected conflict on id means the event is a
// duplicate and handlers must not be dispatched.
func (p *Processor) persist(ctx context.Context, env models.Envelope, workspaceID string) (bool, error) {
	dataJSON, err := json.Marshal(env.Data)
	if err != nil {
		return false, fmt.Errorf("marshaling data: %w", err)
	}
	blobRefs := env.BlobRefs
	if blobRefs == nil {
		blobRefs = []models.BlobRef{}
	}
	blobRefsJSON, err := json.Marshal(blobRefs)
	if err != nil {
		return false, fmt.Errorf("marshaling blob_refs: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO events (id, type, timestamp, device_id, workspace_id, session_id, data, blob_refs, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO NOTHING`,
		env.ID, env.Type, env.Timestamp, env.DeviceID, workspaceID, env.SessionID, dataJSON, blobRefsJSON)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
