package ws

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/devtrack/eventpipeline/pkg/models"
)

// notifyChannel is the single fixed Postgres NOTIFY channel every process
// LISTENs on. Unlike the teacher's per-subscription dynamic channels,
// this protocol's workspace/session filtering happens in-process at
// broadcastMatching, so one shared channel carrying a tagged payload is
// sufficient cross-process relay (spec.md §4.H, broadcaster via in-process
// hook with NOTIFY as the multi-replica enrichment).
const notifyChannel = "devtrack_broadcast"

// notifyEnvelope is what crosses the Postgres NOTIFY channel: enough to
// reconstruct the ServerMessage and the keys it should match against on a
// receiving pod.
type notifyEnvelope struct {
	Origin       string        `json:"origin"`
	WorkspaceKey string        `json:"workspace_key"`
	SessionKey   string        `json:"session_key"`
	Message      ServerMessage `json:"message"`
}

// Broadcaster implements the methods spec.md §4.H names:
// broadcastEvent, broadcastSessionUpdate, broadcastRemoteUpdate. Each
// call fans out in-process immediately, then best-effort NOTIFYs the
// shared channel so other pods relay to their own local clients.
type Broadcaster struct {
	db      *sql.DB
	manager *ConnectionManager
}

// NewBroadcaster builds a Broadcaster over the given manager, NOTIFYing
// through db after every local fanout.
func NewBroadcaster(db *sql.DB, manager *ConnectionManager) *Broadcaster {
	return &Broadcaster{db: db, manager: manager}
}

// BroadcastEvent announces a persisted event to subscribers of "all",
// its workspace, and (if set) its session.
func (b *Broadcaster) BroadcastEvent(ctx context.Context, ev models.Event) {
	var sessionID string
	if ev.SessionID != nil {
		sessionID = *ev.SessionID
	}
	msg := ServerMessage{Type: "event", Event: &EventBroadcast{
		ID: ev.ID, Type: ev.Type, WorkspaceID: ev.WorkspaceID, SessionID: sessionID, Data: ev.Data,
	}}
	b.dispatch(ctx, workspaceKey(ev.WorkspaceID), sessionKeyOrEmpty(sessionID), msg)
}

// BroadcastSessionUpdate announces a session lifecycle change. Satisfies
// pkg/pipeline.Broadcaster so the pipeline can depend on this type
// without importing it directly.
func (b *Broadcaster) BroadcastSessionUpdate(ctx context.Context, sessionID string, lifecycle models.Lifecycle) {
	var workspaceID string
	var summary sql.NullString
	var cost sql.NullFloat64
	err := b.db.QueryRowContext(ctx,
		`SELECT workspace_id, summary, cost_estimate_usd FROM sessions WHERE id = $1`, sessionID,
	).Scan(&workspaceID, &summary, &cost)
	if err != nil {
		slog.Error("ws: loading session for broadcast failed", "session_id", sessionID, "error", err)
		return
	}

	msg := ServerMessage{Type: "session.update", SessionID: sessionID, WorkspaceID: workspaceID, Lifecycle: string(lifecycle)}
	if summary.Valid {
		msg.Summary = &summary.String
	}
	if cost.Valid {
		v := cost.Float64
		msg.Stats = &Stats{CostEstimateUSD: &v}
	}
	b.dispatch(ctx, workspaceKey(workspaceID), sessionKey(sessionID), msg)
}

// BroadcastRemoteUpdate announces a remote-provisioning lifecycle event
// (spec.md's pass-through remote.* event types).
func (b *Broadcaster) BroadcastRemoteUpdate(ctx context.Context, workspaceID, remoteID, status string) {
	msg := ServerMessage{Type: "remote.update", WorkspaceID: workspaceID, RemoteID: remoteID, Status: status}
	b.dispatch(ctx, workspaceKey(workspaceID), "", msg)
}

func (b *Broadcaster) dispatch(ctx context.Context, workspaceKeyStr, sessionKeyStr string, msg ServerMessage) {
	b.manager.broadcastMatching(workspaceKeyStr, sessionKeyStr, msg)

	envelope := notifyEnvelope{Origin: b.manager.InstanceID(), WorkspaceKey: workspaceKeyStr, SessionKey: sessionKeyStr, Message: msg}
	payload, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("ws: marshaling notify envelope failed", "error", err)
		return
	}
	if _, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		slog.Warn("ws: pg_notify failed, local clients already received the broadcast", "error", err)
	}
}

func sessionKeyOrEmpty(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return sessionKey(sessionID)
}
