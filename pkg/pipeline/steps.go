package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/devtrack/eventpipeline/pkg/apperr"
	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/objectstore"
	"github.com/devtrack/eventpipeline/pkg/session"
	"github.com/devtrack/eventpipeline/pkg/summarizer"
)

// SummaryMessageBudget bounds how many of a transcript's messages are
// handed to the summary generator (the most recent ones, in transcript
// order), so a long session never produces an unbounded request body.
const SummaryMessageBudget = 40

// Broadcaster is the narrow hook the pipeline uses to announce a session's
// lifecycle change. A nil Broadcaster has no effect; cmd/devtrack-server
// wires in *ws.Broadcaster.
type Broadcaster interface {
	BroadcastSessionUpdate(ctx context.Context, sessionID string, lifecycle models.Lifecycle)
}

// Steps implements Runner: the per-session fetch/parse/persist/summarize
// sequence of spec.md §4.F.
type Steps struct {
	db          *sql.DB
	store       objectstore.Store
	sessions    *session.Store
	summarizer  summarizer.Generator // nil disables the summarize step
	broadcaster Broadcaster          // nil disables broadcasting
}

// NewSteps builds a Steps runner. gen and broadcaster may be nil.
func NewSteps(db *sql.DB, store objectstore.Store, sessions *session.Store, gen summarizer.Generator, broadcaster Broadcaster) *Steps {
	return &Steps{db: db, store: store, sessions: sessions, summarizer: gen, broadcaster: broadcaster}
}

// Run executes the full pipeline for one session: fetch, parse, persist,
// transition to parsed, optionally summarize, transition to summarized.
func (s *Steps) Run(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("pipeline: %w: session %s", apperr.ErrNotFound, sessionID)
		}
		return fmt.Errorf("pipeline: loading session %s: %w", sessionID, err)
	}

	canonicalID, err := s.workspaceCanonicalID(ctx, sess.WorkspaceID)
	if err != nil {
		return fmt.Errorf("pipeline: loading workspace canonical id: %w", err)
	}

	parsed, err := s.fetchAndParse(ctx, canonicalID, sessionID)
	if err != nil {
		s.fail(ctx, sessionID, "fetch_or_parse", err)
		return err
	}

	if err := s.externalizeOversizedBlocks(ctx, sessionID, parsed); err != nil {
		// Persist-adjacent failures leave the session at its current
		// lifecycle (ended) for retry on the next enqueue; no transition
		// to failed, since the raw transcript itself was fine.
		slog.Error("pipeline: externalizing tool-result blocks failed, will retry on next enqueue", "session_id", sessionID, "error", err)
		return err
	}

	if err := s.persistTranscript(ctx, parsed); err != nil {
		slog.Error("pipeline: persisting transcript failed, will retry on next enqueue", "session_id", sessionID, "error", err)
		return err
	}

	parseDone := models.ParseStatusDone
	result, err := s.sessions.Transition(ctx, sessionID, []models.Lifecycle{models.LifecycleEnded}, models.LifecycleParsed, session.TransitionFields{ParseStatus: &parseDone})
	if err != nil {
		return fmt.Errorf("pipeline: transitioning to parsed: %w", err)
	}
	if !result.Success {
		slog.Warn("pipeline: session was not in ended state, skipping parsed transition", "session_id", sessionID, "reason", result.Reason)
		return nil
	}
	s.broadcast(ctx, sessionID, models.LifecycleParsed)

	if s.summarizer == nil {
		return nil
	}
	s.summarize(ctx, sess, sessionID, parsed)
	return nil
}

func (s *Steps) fetchAndParse(ctx context.Context, canonicalID, sessionID string) (ParsedTranscript, error) {
	rawKey := objectstore.RawTranscriptKey(canonicalID, sessionID)
	rc, err := s.store.Get(ctx, rawKey)
	if err != nil {
		return ParsedTranscript{}, fmt.Errorf("fetching raw transcript: %w", err)
	}
	defer rc.Close()

	parsed, err := ParseTranscript(sessionID, rc)
	if err != nil {
		return ParsedTranscript{}, err
	}
	return parsed, nil
}

func (s *Steps) externalizeOversizedBlocks(ctx context.Context, sessionID string, parsed ParsedTranscript) error {
	for i := range parsed.Blocks {
		block := &parsed.Blocks[i]
		text, ok := parsed.Externalized[block.ID]
		if !ok {
			continue
		}
		key := objectstore.ArtifactKey(sessionID, block.ID, "txt")
		if err := s.store.Put(ctx, key, strings.NewReader(text), "text/plain"); err != nil {
			return fmt.Errorf("uploading artifact for block %s: %w", block.ID, err)
		}
		block.ResultS3Key = &key
	}
	return nil
}

// persistTranscript writes every message and block in a single
// transaction, relying on the (session_id, ordinal) and
// (message_id, block_order) uniqueness constraints to make retries
// idempotent.
func (s *Steps) persistTranscript(ctx context.Context, parsed ParsedTranscript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	storedIDs := make(map[string]string, len(parsed.Messages))
	for _, msg := range parsed.Messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_messages
				(id, session_id, line_number, ordinal, role, model, tokens_in, tokens_out,
				 tokens_cache_read, tokens_cache_write, cost_usd, compact_sequence, is_compacted, timestamp, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (session_id, ordinal) DO NOTHING`,
			msg.ID, msg.SessionID, msg.LineNumber, msg.Ordinal, msg.Role, msg.Model,
			msg.TokensIn, msg.TokensOut, msg.TokensCacheRead, msg.TokensCacheWrite,
			msg.CostUSD, msg.CompactSequence, msg.IsCompacted, msg.Timestamp, metadataJSON(msg.Metadata))
		if err != nil {
			return fmt.Errorf("inserting transcript message %s: %w", msg.ID, err)
		}
		// On a retry the row already exists under the earlier run's id;
		// blocks must reference that id, not this run's fresh one.
		var storedID string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM transcript_messages WHERE session_id = $1 AND ordinal = $2`,
			msg.SessionID, msg.Ordinal).Scan(&storedID); err != nil {
			return fmt.Errorf("loading stored id for transcript message %s: %w", msg.ID, err)
		}
		storedIDs[msg.ID] = storedID
	}

	for _, block := range parsed.Blocks {
		toolInputJSON, err := json.Marshal(block.ToolInput)
		if err != nil {
			return fmt.Errorf("marshaling tool_input for block %s: %w", block.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO content_blocks
				(id, message_id, session_id, block_order, block_type, content_text,
				 tool_name, tool_input, tool_result_id, result_s3_key, is_error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (message_id, block_order) DO NOTHING`,
			block.ID, storedIDs[block.MessageID], block.SessionID, block.BlockOrder, block.BlockType,
			block.ContentText, block.ToolName, toolInputJSON, block.ToolResultID, block.ResultS3Key, block.IsError)
		if err != nil {
			return fmt.Errorf("inserting content block %s: %w", block.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Steps) summarize(ctx context.Context, sess *models.Session, sessionID string, parsed ParsedTranscript) {
	req := summarizer.Request{
		SessionID:       sessionID,
		Messages:        summaryMessages(parsed),
		Model:           "",
		Temperature:     0.2,
		MaxOutputTokens: 512,
	}
	if sess.Model != nil {
		req.Model = *sess.Model
	}

	result, err := s.summarizer.Summarize(ctx, req)
	if err != nil {
		// Summary failures are logged only; the session stays at parsed
		// and is never transitioned to failed over a summarizer outage.
		slog.Error("pipeline: summary generation failed, leaving session at parsed", "session_id", sessionID, "error", err)
		return
	}

	fields := session.TransitionFields{Summary: &result.Summary, CostEstimateUSD: &result.CostEstimateUSD}
	transition, err := s.sessions.Transition(ctx, sessionID, []models.Lifecycle{models.LifecycleParsed}, models.LifecycleSummarized, fields)
	if err != nil {
		slog.Error("pipeline: transitioning to summarized failed", "session_id", sessionID, "error", err)
		return
	}
	if !transition.Success {
		slog.Warn("pipeline: session left parsed state before summary completed", "session_id", sessionID, "reason", transition.Reason)
		return
	}
	s.broadcast(ctx, sessionID, models.LifecycleSummarized)
}

func summaryMessages(parsed ParsedTranscript) []summarizer.Message {
	start := 0
	if len(parsed.Messages) > SummaryMessageBudget {
		start = len(parsed.Messages) - SummaryMessageBudget
	}
	out := make([]summarizer.Message, 0, len(parsed.Messages)-start)
	for _, msg := range parsed.Messages[start:] {
		out = append(out, summarizer.Message{Role: string(msg.Role), Content: messageText(parsed, msg.ID)})
	}
	return out
}

func messageText(parsed ParsedTranscript, messageID string) string {
	var sb strings.Builder
	for _, block := range parsed.Blocks {
		if block.MessageID != messageID || block.ContentText == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(*block.ContentText)
	}
	return sb.String()
}

func (s *Steps) fail(ctx context.Context, sessionID, stage string, cause error) {
	result, err := s.sessions.Transition(ctx, sessionID, []models.Lifecycle{models.LifecycleEnded}, models.LifecycleFailed, session.TransitionFields{})
	if err != nil {
		slog.Error("pipeline: transitioning to failed errored", "session_id", sessionID, "stage", stage, "error", err)
		return
	}
	if !result.Success {
		slog.Warn("pipeline: could not transition to failed", "session_id", sessionID, "stage", stage, "reason", result.Reason)
		return
	}
	slog.Error("pipeline: session failed", "session_id", sessionID, "stage", stage, "cause", cause)
	s.broadcast(ctx, sessionID, models.LifecycleFailed)
}

func (s *Steps) broadcast(ctx context.Context, sessionID string, lifecycle models.Lifecycle) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastSessionUpdate(ctx, sessionID, lifecycle)
}

func (s *Steps) workspaceCanonicalID(ctx context.Context, workspaceID string) (string, error) {
	var canonicalID string
	err := s.db.QueryRowContext(ctx, `SELECT canonical_id FROM workspaces WHERE id = $1`, workspaceID).Scan(&canonicalID)
	if err != nil {
		return "", err
	}
	return canonicalID, nil
}

func metadataJSON(metadata map[string]any) []byte {
	if metadata == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return []byte("{}")
	}
	return b
}
