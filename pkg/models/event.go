package models

import "time"

// Event types recognized by the wire envelope. Only the first seven have
// registered payload validators (see pkg/ingest); the rest pass through
// with envelope-only validation.
const (
	EventTypeSessionStart   = "session.start"
	EventTypeSessionEnd     = "session.end"
	EventTypeSessionCompact = "session.compact"

	EventTypeGitCommit   = "git.commit"
	EventTypeGitPush     = "git.push"
	EventTypeGitCheckout = "git.checkout"
	EventTypeGitMerge    = "git.merge"

	EventTypeRemoteProvisionStart = "remote.provision.start"
	EventTypeRemoteProvisionReady = "remote.provision.ready"
	EventTypeRemoteProvisionError = "remote.provision.error"
	EventTypeRemoteTerminate      = "remote.terminate"

	EventTypeSystemDeviceRegister = "system.device.register"
	EventTypeSystemHooksInstalled = "system.hooks.installed"
	EventTypeSystemHeartbeat      = "system.heartbeat"
)

// RegisteredEventTypes enforce a payload schema in the event processor.
var RegisteredEventTypes = map[string]bool{
	EventTypeSessionStart:   true,
	EventTypeSessionEnd:     true,
	EventTypeSessionCompact: true,
	EventTypeGitCommit:      true,
	EventTypeGitPush:        true,
	EventTypeGitCheckout:    true,
	EventTypeGitMerge:       true,
}

// KnownEventTypes is the full closed set envelope validation checks
// `type` against — registered types plus the pass-through ones.
var KnownEventTypes = map[string]bool{
	EventTypeSessionStart:         true,
	EventTypeSessionEnd:           true,
	EventTypeSessionCompact:       true,
	EventTypeGitCommit:            true,
	EventTypeGitPush:              true,
	EventTypeGitCheckout:          true,
	EventTypeGitMerge:             true,
	EventTypeRemoteProvisionStart: true,
	EventTypeRemoteProvisionReady: true,
	EventTypeRemoteProvisionError: true,
	EventTypeRemoteTerminate:      true,
	EventTypeSystemDeviceRegister: true,
	EventTypeSystemHooksInstalled: true,
	EventTypeSystemHeartbeat:      true,
}

// BlobRef references an out-of-band blob (e.g. a large tool result)
// attached to an event.
type BlobRef struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Event is the durable, deduplicated record of one ingested envelope. Its
// ID is the dedup anchor: a second insert with the same ID affects zero
// rows and the event is treated as a duplicate.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	DeviceID    string         `json:"device_id"`
	WorkspaceID string         `json:"workspace_id"` // resolved ULID, not the wire canonical id
	SessionID   *string        `json:"session_id"`
	Data        map[string]any `json:"data"`
	BlobRefs    []BlobRef      `json:"blob_refs"`
	IngestedAt  time.Time      `json:"ingested_at"`
}

// Envelope is the wire shape of an event as received over HTTP, before
// workspace_id has been resolved from a canonical string to a ULID.
type Envelope struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	DeviceID    string         `json:"device_id"`
	WorkspaceID string         `json:"workspace_id"`
	SessionID   *string        `json:"session_id"`
	Data        map[string]any `json:"data"`
	BlobRefs    []BlobRef      `json:"blob_refs"`
}
