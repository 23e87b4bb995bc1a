// Package idgen generates entity ids and derives canonical workspace
// identifiers. All entity ids (other than the externally supplied device
// id and session id) are 26-character Crockford Base32 ULIDs, lexically
// sortable by generation time — see github.com/oklog/ulid/v2 (pack-sourced
// from goadesign-goa-ai and several other_examples manifests).
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string. Safe for concurrent use.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ulidPattern matches the 26-character Crockford Base32 grammar (no I, L,
// O, U) used by envelope validation.
var ulidPattern = regexp.MustCompile(`^[0-7][0-9A-HJKMNP-TV-Z]{25}$`)

// Valid reports whether s is a syntactically valid ULID.
func Valid(s string) bool {
	return ulidPattern.MatchString(strings.ToUpper(s))
}

// CanonicalWorkspaceID derives the deterministic canonical id for a
// workspace from a git remote URL, a local repo path, or neither
// (spec.md §3). Callers that already have a canonical id from the wire
// envelope should use it directly; this is for collaborators (the CLI)
// that only have raw git state — kept here because the derivation rule is
// part of the data model's contract, not ingest-specific.
func CanonicalWorkspaceID(remote, localPath string) string {
	if remote != "" {
		return normalizeRemote(remote)
	}
	if localPath != "" {
		sum := sha256.Sum256([]byte(localPath))
		return "local:" + hex.EncodeToString(sum[:])
	}
	return "_unassociated"
}

// normalizeRemote lowercases a git remote URL and reduces it to
// "host/path" with no scheme, credentials, trailing ".git", or trailing
// slash. Handles both SSH-shorthand (git@host:path) and URL
// (scheme://host/path) remotes.
func normalizeRemote(remote string) string {
	r := strings.TrimSpace(remote)
	r = strings.TrimSuffix(r, "/")
	r = strings.TrimSuffix(r, ".git")

	if idx := strings.Index(r, "://"); idx >= 0 {
		r = r[idx+3:]
		if at := strings.Index(r, "@"); at >= 0 {
			r = r[at+1:]
		}
	} else if at := strings.Index(r, "@"); at >= 0 && strings.Contains(r, ":") {
		// SSH shorthand: git@host:owner/repo
		r = r[at+1:]
		r = strings.Replace(r, ":", "/", 1)
	}

	return strings.ToLower(r)
}

// DisplayNameFromCanonical derives a human-friendly display name from a
// canonical workspace id by taking its path tail, mirroring the resolver's
// "derived from canonical_id tail" rule (spec.md §4.A).
func DisplayNameFromCanonical(canonicalID string) string {
	if canonicalID == "_unassociated" {
		return "Unassociated"
	}
	trimmed := strings.TrimPrefix(canonicalID, "local:")
	parts := strings.Split(strings.TrimRight(trimmed, "/"), "/")
	return parts[len(parts)-1]
}
