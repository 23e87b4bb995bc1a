// Package models defines the persisted domain entities for the event
// pipeline: workspaces, devices, events, sessions, transcript messages,
// content blocks, and git activity. These are plain structs — persistence
// lives in pkg/database and the component packages that own each entity's
// writes, not here.
package models

import "time"

// UnassociatedWorkspace is the canonical id sentinel for events that did
// not originate inside a git repository.
const UnassociatedWorkspace = "_unassociated"

// Workspace is a repository identity, keyed externally by CanonicalID (a
// deterministic string derived from a normalized git remote, a
// `local:<sha256>` hash, or UnassociatedWorkspace) and internally by a ULID.
type Workspace struct {
	ID            string    `json:"id"`
	CanonicalID   string    `json:"canonical_id"`
	DisplayName   string    `json:"display_name"`
	DefaultBranch *string   `json:"default_branch"`
	CreatedAt     time.Time `json:"created_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// Device is a developer workstation. Its ID is supplied by the client and
// used as-is — devices are never assigned a separate internal id.
type Device struct {
	ID         string
	Name       *string
	Type       *string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// WorkspaceDevice records that a device has checked out a workspace at a
// local path. The triple (WorkspaceID, DeviceID, LocalPath) is unique.
type WorkspaceDevice struct {
	WorkspaceID string
	DeviceID    string
	LocalPath   string
	LastSeenAt  time.Time
}

// WorkspaceHints carries fields extracted from an event payload that may
// fill in gaps on first-sight workspace records (e.g. default_branch).
type WorkspaceHints struct {
	DefaultBranch *string
}
