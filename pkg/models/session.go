package models

import "time"

// Lifecycle is the finite state of a session as it traverses detection,
// capture, end, parse, summarize, and archive. Transitions are monotonic;
// "failed" is reachable from any state. See session.Store.Transition in
// pkg/session for the transition primitive that enforces this.
type Lifecycle string

const (
	LifecycleDetected   Lifecycle = "detected"
	LifecycleCapturing  Lifecycle = "capturing"
	LifecycleEnded      Lifecycle = "ended"
	LifecycleParsed     Lifecycle = "parsed"
	LifecycleSummarized Lifecycle = "summarized"
	LifecycleArchived   Lifecycle = "archived"
	LifecycleFailed     Lifecycle = "failed"
)

// ParseStatus tracks the post-processing pipeline's own progress,
// independent of the coarser Lifecycle (which only records ended vs parsed).
type ParseStatus string

const (
	ParseStatusPending ParseStatus = "pending"
	ParseStatusRunning ParseStatus = "running"
	ParseStatusDone    ParseStatus = "done"
	ParseStatusFailed  ParseStatus = "failed"
)

// Session is a single Claude Code session, keyed by the externally
// supplied cc_session_id (never renamed or regenerated).
type Session struct {
	ID              string      `json:"id"`
	WorkspaceID     string      `json:"workspace_id"`
	DeviceID        string      `json:"device_id"`
	Lifecycle       Lifecycle   `json:"lifecycle"`
	ParseStatus     ParseStatus `json:"parse_status"`
	CWD             string      `json:"cwd"`
	GitBranch       *string     `json:"git_branch"`
	GitRemote       *string     `json:"git_remote"`
	Model           *string     `json:"model"`
	StartedAt       time.Time   `json:"started_at"`
	EndedAt         *time.Time  `json:"ended_at"`
	DurationMs      *int64      `json:"duration_ms"`
	EndReason       *string     `json:"end_reason"`
	TranscriptS3Key *string     `json:"transcript_s3_key"`
	Summary         *string     `json:"summary"`
	CostEstimateUSD *float64    `json:"cost_estimate_usd"`
	CompactSequence int         `json:"compact_sequence"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Active reports whether the session's interval should be considered open
// for git-correlation purposes (no EndedAt yet).
func (s *Session) Active() bool {
	return s.EndedAt == nil
}
