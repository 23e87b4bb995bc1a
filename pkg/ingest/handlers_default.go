package ingest

import (
	"context"

	"github.com/devtrack/eventpipeline/pkg/gitcorrelate"
	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/session"
)

// SessionEndedHook is invoked after a session.end handler transitions a
// session whose transcript was already uploaded, so the caller can
// enqueue the post-processing pipeline.
type SessionEndedHook func(sessionID string)

// RegisterDefaultHandlers wires the registered event types to the
// session lifecycle and git correlator packages, matching spec.md §4.D
// and §4.E exactly.
func (p *Processor) RegisterDefaultHandlers(sessions *session.Store, git *gitcorrelate.Correlator, onEnded SessionEndedHook) {
	p.RegisterHandler(models.EventTypeSessionStart, func(ctx context.Context, ev models.Event) error {
		ccSessionID, _ := ev.Data["cc_session_id"].(string)
		cwd, _ := ev.Data["cwd"].(string)
		return sessions.HandleStart(ctx, ev.WorkspaceID, ev.DeviceID, ev.Timestamp, session.StartPayload{
			CCSessionID: ccSessionID,
			CWD:         cwd,
			GitBranch:   stringPtr(ev.Data["git_branch"]),
			GitRemote:   stringPtr(ev.Data["git_remote"]),
			Model:       stringPtr(ev.Data["model"]),
		})
	})

	p.RegisterHandler(models.EventTypeSessionEnd, func(ctx context.Context, ev models.Event) error {
		ccSessionID, _ := ev.Data["cc_session_id"].(string)
		endReason, _ := ev.Data["end_reason"].(string)
		result, err := sessions.HandleEnd(ctx, ev.Timestamp, session.EndPayload{
			CCSessionID: ccSessionID,
			DurationMs:  int64(numberOrZero(ev.Data["duration_ms"])),
			EndReason:   endReason,
		})
		if err != nil {
			return err
		}
		if result.TriggerPipeline && onEnded != nil {
			onEnded(ccSessionID)
		}
		return nil
	})

	p.RegisterHandler(models.EventTypeSessionCompact, func(ctx context.Context, ev models.Event) error {
		ccSessionID, _ := ev.Data["cc_session_id"].(string)
		_, err := sessions.HandleCompact(ctx, session.CompactPayload{
			CCSessionID:     ccSessionID,
			CompactSequence: int(numberOrZero(ev.Data["compact_sequence"])),
		})
		return err
	})

	p.RegisterHandler(models.EventTypeGitCommit, func(ctx context.Context, ev models.Event) error {
		branch, _ := ev.Data["branch"].(string)
		return git.Persist(ctx, gitcorrelate.Activity{
			EventID: ev.ID, WorkspaceID: ev.WorkspaceID, DeviceID: ev.DeviceID,
			Type: models.GitActivityCommit, Branch: branch,
			CommitSHA: stringPtr(ev.Data["commit_sha"]), Message: stringPtr(ev.Data["message"]),
			Insertions: intPtr(ev.Data["insertions"]), Deletions: intPtr(ev.Data["deletions"]),
			FilesChanged: intPtr(ev.Data["files_changed"]), Timestamp: ev.Timestamp, Data: ev.Data,
		})
	})

	p.RegisterHandler(models.EventTypeGitPush, func(ctx context.Context, ev models.Event) error {
		branch, _ := ev.Data["branch"].(string)
		return git.Persist(ctx, gitcorrelate.Activity{
			EventID: ev.ID, WorkspaceID: ev.WorkspaceID, DeviceID: ev.DeviceID,
			Type: models.GitActivityPush, Branch: branch, Timestamp: ev.Timestamp, Data: ev.Data,
		})
	})

	p.RegisterHandler(models.EventTypeGitCheckout, func(ctx context.Context, ev models.Event) error {
		toBranch, _ := ev.Data["to_branch"].(string)
		toRef, _ := ev.Data["to_ref"].(string)
		branch := toBranch
		if branch == "" {
			branch = toRef
		}
		return git.Persist(ctx, gitcorrelate.Activity{
			EventID: ev.ID, WorkspaceID: ev.WorkspaceID, DeviceID: ev.DeviceID,
			Type: models.GitActivityCheckout, Branch: branch, Timestamp: ev.Timestamp, Data: ev.Data,
		})
	})

	p.RegisterHandler(models.EventTypeGitMerge, func(ctx context.Context, ev models.Event) error {
		branch, _ := ev.Data["branch"].(string)
		return git.Persist(ctx, gitcorrelate.Activity{
			EventID: ev.ID, WorkspaceID: ev.WorkspaceID, DeviceID: ev.DeviceID,
			Type: models.GitActivityMerge, Branch: branch,
			CommitSHA: stringPtr(ev.Data["commit_sha"]), Timestamp: ev.Timestamp, Data: ev.Data,
		})
	})
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func numberOrZero(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func intPtr(v any) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	default:
		return nil
	}
}
