// Package ws implements the authenticated WebSocket subscription protocol
// and broadcaster (spec.md §4.G, §4.H): bearer-gated upgrade, a
// subscribe/unsubscribe/pong client protocol, server-pushed event/
// session.update/remote.update/ping frames, and non-blocking filtered
// fanout. Adapted from the teacher's pkg/events (ConnectionManager,
// NotifyListener), replacing its per-channel dynamic LISTEN/UNLISTEN with
// a single fixed NOTIFY channel since this protocol's subscription
// filtering happens in-process against each broadcast's workspace/session
// id, not at the Postgres channel layer.
package ws

import "fmt"

// ClientMessage is the JSON shape of a client → server frame.
type ClientMessage struct {
	Action      string `json:"action"`
	Scope       string `json:"scope,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPong        = "pong"
)

const scopeAll = "all"

// subscriptionKey derives the internal subscription-set key for a client
// message, matching spec.md §4.G's three shapes: {scope:"all"},
// {workspace_id}, {session_id}.
func subscriptionKey(msg ClientMessage) (string, bool) {
	switch {
	case msg.Scope == scopeAll:
		return scopeAll, true
	case msg.WorkspaceID != "":
		return workspaceKey(msg.WorkspaceID), true
	case msg.SessionID != "":
		return sessionKey(msg.SessionID), true
	default:
		return "", false
	}
}

func workspaceKey(id string) string { return fmt.Sprintf("workspace:%s", id) }
func sessionKey(id string) string   { return fmt.Sprintf("session:%s", id) }

// ServerMessage is the JSON shape of a server → client frame. Fields are
// tagged omitempty so each message kind only serializes what it carries.
type ServerMessage struct {
	Type        string `json:"type"`
	ClientID    string `json:"client_id,omitempty"`
	Scope       string `json:"scope,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Message     string `json:"message,omitempty"`

	Event *EventBroadcast `json:"event,omitempty"`

	Lifecycle string   `json:"lifecycle,omitempty"`
	Summary   *string  `json:"summary,omitempty"`
	Stats     *Stats   `json:"stats,omitempty"`
	RemoteID  string   `json:"remote_id,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// EventBroadcast carries a persisted event's identifying fields for
// broadcastEvent deliveries.
type EventBroadcast struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id"`
	SessionID   string         `json:"session_id,omitempty"`
	Data        map[string]any `json:"data"`
}

// Stats is the optional cost/token summary attached to a session update.
type Stats struct {
	CostEstimateUSD *float64 `json:"cost_estimate_usd,omitempty"`
}
