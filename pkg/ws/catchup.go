package ws

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
)

// catchupLimit bounds how many missed events a newly subscribed client is
// replayed before being told to fall back to a REST reload, matching the
// teacher's ConnectionManager.handleCatchup (spec.md's supplemented
// WebSocket catch-up feature).
const catchupLimit = 200

// CatchupQuerier supplies the recent events a client should be replayed
// when it subscribes, so a dashboard that connects late isn't missing
// recent history.
type CatchupQuerier interface {
	RecentEvents(ctx context.Context, msg ClientMessage, limit int) ([]EventBroadcast, error)
}

// DBCatchupQuerier implements CatchupQuerier directly against Postgres.
type DBCatchupQuerier struct {
	db *sql.DB
}

// NewDBCatchupQuerier wraps a *sql.DB for catch-up queries.
func NewDBCatchupQuerier(db *sql.DB) *DBCatchupQuerier {
	return &DBCatchupQuerier{db: db}
}

func (q *DBCatchupQuerier) RecentEvents(ctx context.Context, msg ClientMessage, limit int) ([]EventBroadcast, error) {
	var rows *sql.Rows
	var err error
	switch {
	case msg.SessionID != "":
		rows, err = q.db.QueryContext(ctx, `
			SELECT id, type, workspace_id, session_id, data FROM events
			WHERE session_id = $1 ORDER BY timestamp DESC LIMIT $2`, msg.SessionID, limit)
	case msg.WorkspaceID != "":
		rows, err = q.db.QueryContext(ctx, `
			SELECT id, type, workspace_id, session_id, data FROM events
			WHERE workspace_id = $1 ORDER BY timestamp DESC LIMIT $2`, msg.WorkspaceID, limit)
	case msg.Scope == scopeAll:
		rows, err = q.db.QueryContext(ctx, `
			SELECT id, type, workspace_id, session_id, data FROM events
			ORDER BY timestamp DESC LIMIT $1`, limit)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventBroadcast
	for rows.Next() {
		var (
			e           EventBroadcast
			sessionID   sql.NullString
			dataJSON    []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.WorkspaceID, &sessionID, &dataJSON); err != nil {
			return nil, err
		}
		if sessionID.Valid {
			e.SessionID = sessionID.String
		}
		if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// handleCatchup replays recent events for the scope the client just
// subscribed to, in chronological order, followed by an overflow notice
// if more than catchupLimit events were missed.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Client, msg ClientMessage) {
	events, err := m.catchup.RecentEvents(ctx, msg, catchupLimit+1)
	if err != nil {
		slog.Error("ws: catchup query failed", "client_id", c.ID, "error", err)
		return
	}

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	// Query returns newest-first; replay oldest-first so ordering matches
	// how the events originally occurred.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if err := m.send(c, ServerMessage{Type: "event", Event: &e}); err != nil {
			return
		}
	}

	if hasMore {
		m.send(c, ServerMessage{Type: "catchup.overflow", Scope: msg.Scope, WorkspaceID: msg.WorkspaceID, SessionID: msg.SessionID})
	}
}
