// Package objectstore provides the narrow blob store contract used to
// externalize large transcript bodies and tool-result payloads: put, get,
// and derive a key. Backed by S3 (or an S3-compatible store) via the AWS
// SDK v2 client.
package objectstore

import (
	"context"
	"fmt"
	"io"
)

// Store is the contract every component needing blob storage depends on —
// narrow by design so the pipeline and ingest handlers never need to know
// about bucket layout or SDK types.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// RawTranscriptKey derives the storage key for a session's raw uploaded
// transcript (spec.md §6).
func RawTranscriptKey(canonicalID, sessionID string) string {
	return fmt.Sprintf("transcripts/%s/%s/raw.jsonl", canonicalID, sessionID)
}

// ParsedTranscriptKey derives the storage key for a session's parsed
// transcript. Nothing in this module writes an object under this key: the
// pipeline persists parsed messages and blocks to Postgres only.
func ParsedTranscriptKey(canonicalID, sessionID string) string {
	return fmt.Sprintf("transcripts/%s/%s/parsed.json", canonicalID, sessionID)
}

// ArtifactKey derives the storage key for an externalized artifact (e.g. a
// large tool-result body), keyed by session and artifact id.
func ArtifactKey(sessionID, artifactID, ext string) string {
	return fmt.Sprintf("artifacts/%s/%s.%s", sessionID, artifactID, ext)
}
