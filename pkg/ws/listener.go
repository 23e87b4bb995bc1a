package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// NotifyListener relays Postgres NOTIFY payloads on notifyChannel to the
// local ConnectionManager, the cross-process half of the broadcaster's
// fanout. Grounded on the teacher's NotifyListener reconnect-with-backoff
// loop, simplified to one fixed channel since this protocol's
// subscription matching happens in-process rather than per-channel.
type NotifyListener struct {
	connString string
	manager    *ConnectionManager
}

// NewNotifyListener builds a NotifyListener. connString should be a
// dedicated connection (LISTEN occupies the connection for its lifetime).
func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{connString: connString, manager: manager}
}

// Run connects, issues LISTEN once, and relays notifications until ctx is
// canceled, reconnecting with exponential backoff on any connection loss.
func (l *NotifyListener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("ws: notify listener connect failed", "error", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
			slog.Error("ws: LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		slog.Info("ws: notify listener connected", "channel", notifyChannel)

		l.receiveLoop(ctx, conn)
		_ = conn.Close(ctx)
	}
}

func (l *NotifyListener) receiveLoop(ctx context.Context, conn *pgx.Conn) {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("ws: notify receive error", "error", err)
			return
		}

		var envelope notifyEnvelope
		if err := json.Unmarshal([]byte(notification.Payload), &envelope); err != nil {
			slog.Warn("ws: discarding malformed notify payload", "error", err)
			continue
		}
		if envelope.Origin == l.manager.InstanceID() {
			// Already delivered locally by the in-process broadcaster
			// call that triggered this NOTIFY.
			continue
		}
		l.manager.broadcastMatching(envelope.WorkspaceKey, envelope.SessionKey, envelope.Message)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
