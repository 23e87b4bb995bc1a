package models

// Payload shapes enforced by the event processor's registry for the seven
// registered event types (spec.md §6). Unregistered types pass their
// `data` map through unvalidated.

// SessionStartPayload is the data map of a session.start event.
type SessionStartPayload struct {
	CCSessionID    string  `json:"cc_session_id"`
	CWD            string  `json:"cwd"`
	GitBranch      *string `json:"git_branch"`
	GitRemote      *string `json:"git_remote"`
	CCVersion      *string `json:"cc_version"`
	Model          *string `json:"model"`
	Source         *string `json:"source"`
	TranscriptPath *string `json:"transcript_path"`
}

// SessionEndPayload is the data map of a session.end event.
type SessionEndPayload struct {
	CCSessionID string `json:"cc_session_id"`
	DurationMs  int64  `json:"duration_ms"`
	EndReason   string `json:"end_reason"`
}

// SessionCompactPayload is the data map of a session.compact event.
type SessionCompactPayload struct {
	CCSessionID     string `json:"cc_session_id"`
	CompactSequence int    `json:"compact_sequence"`
}

// GitCommitPayload is the data map of a git.commit event.
type GitCommitPayload struct {
	Branch       string  `json:"branch"`
	CommitSHA    string  `json:"commit_sha"`
	Message      *string `json:"message"`
	Insertions   *int    `json:"insertions"`
	Deletions    *int    `json:"deletions"`
	FilesChanged *int    `json:"files_changed"`
}

// GitPushPayload is the data map of a git.push event.
type GitPushPayload struct {
	Branch string  `json:"branch"`
	Remote *string `json:"remote"`
}

// GitCheckoutPayload is the data map of a git.checkout event. Branch is
// resolved by the handler as ToBranch if non-nil, else ToRef (detached
// head) — see pkg/ingest/handlers_default.go.
type GitCheckoutPayload struct {
	FromBranch *string `json:"from_branch"`
	ToBranch   *string `json:"to_branch"`
	ToRef      *string `json:"to_ref"`
}

// GitMergePayload is the data map of a git.merge event.
type GitMergePayload struct {
	Branch     string  `json:"branch"`
	FromBranch *string `json:"from_branch"`
	CommitSHA  *string `json:"commit_sha"`
}
