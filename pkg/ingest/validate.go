// Package ingest implements the event processor (spec.md §4.C): envelope
// and payload validation, identity resolution, idempotent persistence,
// and handler dispatch for each event drawn from the durable log.
package ingest

import (
	"fmt"

	"github.com/devtrack/eventpipeline/pkg/idgen"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// ValidateEnvelope checks the closed-set structural rules every event
// must satisfy regardless of type, defaulting BlobRefs to empty when
// absent.
func ValidateEnvelope(e *models.Envelope) error {
	if !idgen.Valid(e.ID) {
		return fmt.Errorf("id: must be a valid ULID")
	}
	if !models.KnownEventTypes[e.Type] {
		return fmt.Errorf("type: %q is not a recognized event type", e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp: must be a valid ISO-8601 datetime")
	}
	if e.DeviceID == "" {
		return fmt.Errorf("device_id: must be non-empty")
	}
	if e.WorkspaceID == "" {
		return fmt.Errorf("workspace_id: must be non-empty")
	}
	if e.Data == nil {
		return fmt.Errorf("data: must be a map")
	}
	if e.BlobRefs == nil {
		e.BlobRefs = []models.BlobRef{}
	}
	for i, ref := range e.BlobRefs {
		if ref.SizeBytes < 0 {
			return fmt.Errorf("blob_refs[%d].size_bytes: must be >= 0", i)
		}
	}
	return nil
}
