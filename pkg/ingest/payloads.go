package ingest

import (
	"fmt"

	"github.com/devtrack/eventpipeline/pkg/models"
)

// ValidatePayload enforces the payload shape for registered event types
// (spec.md §4.C point 2). Unregistered types pass through unvalidated.
func ValidatePayload(eventType string, data map[string]any) error {
	switch eventType {
	case models.EventTypeSessionStart:
		return requireNonEmptyStrings(data, "cc_session_id", "cwd")
	case models.EventTypeSessionEnd:
		if err := requireNonEmptyStrings(data, "cc_session_id", "end_reason"); err != nil {
			return err
		}
		return requireNumber(data, "duration_ms")
	case models.EventTypeSessionCompact:
		if err := requireNonEmptyStrings(data, "cc_session_id"); err != nil {
			return err
		}
		return requireNumber(data, "compact_sequence")
	case models.EventTypeGitCommit:
		return requireNonEmptyStrings(data, "branch", "commit_sha")
	case models.EventTypeGitPush:
		return requireNonEmptyStrings(data, "branch")
	case models.EventTypeGitCheckout:
		toBranch, _ := data["to_branch"].(string)
		toRef, _ := data["to_ref"].(string)
		if toBranch == "" && toRef == "" {
			return fmt.Errorf("one of to_branch or to_ref is required")
		}
		return nil
	case models.EventTypeGitMerge:
		return requireNonEmptyStrings(data, "branch")
	default:
		return nil
	}
}

func requireNonEmptyStrings(data map[string]any, fields ...string) error {
	for _, f := range fields {
		v, ok := data[f]
		if !ok {
			return fmt.Errorf("%s: is required", f)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return fmt.Errorf("%s: must be a non-empty string", f)
		}
	}
	return nil
}

func requireNumber(data map[string]any, field string) error {
	v, ok := data[field]
	if !ok {
		return fmt.Errorf("%s: is required", field)
	}
	switch v.(type) {
	case float64, int, int64:
		return nil
	default:
		return fmt.Errorf("%s: must be a number", field)
	}
}

// ExtractHints returns {default_branch} for session.start events whose
// data.git_branch is a non-empty string, and nil otherwise (spec.md
// §4.C's extractHints tie-break).
func ExtractHints(eventType string, data map[string]any) *string {
	if eventType != models.EventTypeSessionStart {
		return nil
	}
	branch, _ := data["git_branch"].(string)
	if branch == "" {
		return nil
	}
	return &branch
}
