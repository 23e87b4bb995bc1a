package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/devtrack/eventpipeline/pkg/idgen"
	"github.com/devtrack/eventpipeline/pkg/metrics"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// ToolResultInlineLimit is the serialized-text size threshold above which
// a tool-result block's body is externalized to the object store instead
// of persisted inline (spec.md §4.F step 2).
const ToolResultInlineLimit = 8 * 1024

// rawLine is one newline-delimited entry of a session's raw transcript
// upload: a single turn with one or more content blocks.
type rawLine struct {
	Role            string          `json:"role"`
	Model           string          `json:"model,omitempty"`
	Timestamp       string          `json:"timestamp"`
	Content         []rawBlock      `json:"content"`
	Usage           *rawUsage       `json:"usage,omitempty"`
	CompactSequence int             `json:"compact_sequence,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	ToolInput map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // tool_result body, string or block array
}

// ParsedTranscript is the output of parsing a session's raw transcript.
type ParsedTranscript struct {
	Messages []models.TranscriptMessage
	Blocks   []models.ContentBlock
	// Externalized maps a content-block id to the oversized text that was
	// uploaded to the object store instead of persisted inline.
	Externalized map[string]string
}

// ParseTranscript reads newline-delimited transcript lines, preserving
// the source line_number and assigning a parse-order ordinal to each
// message (spec.md §4.F step 2).
func ParseTranscript(sessionID string, r io.Reader) (ParsedTranscript, error) {
	var result ParsedTranscript
	result.Externalized = make(map[string]string)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineNumber := 0
	ordinal := 0
	compactHighWater := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			return ParsedTranscript{}, fmt.Errorf("pipeline: parsing line %d: %w", lineNumber, err)
		}

		msgID := idgen.New()
		msg := models.TranscriptMessage{
			ID:         msgID,
			SessionID:  sessionID,
			LineNumber: lineNumber,
			Ordinal:    ordinal,
			Role:       models.Role(raw.Role),
		}
		if raw.Model != "" {
			msg.Model = &raw.Model
		}
		if ts, err := parseTimestamp(raw.Timestamp); err == nil {
			msg.Timestamp = ts
		}
		if raw.Usage != nil {
			msg.TokensIn = &raw.Usage.InputTokens
			msg.TokensOut = &raw.Usage.OutputTokens
			msg.TokensCacheRead = &raw.Usage.CacheReadInputTokens
			msg.TokensCacheWrite = &raw.Usage.CacheCreationInputTokens
		}
		// compact_sequence must be non-decreasing across a transcript
		// (spec.md §3/§9); a regression is silently clamped to the running
		// high-water mark rather than rejecting the whole upload, with the
		// occurrence counted so an operator can notice a misbehaving client.
		if raw.CompactSequence < compactHighWater {
			metrics.TranscriptCompactSequenceRejectedTotal.Inc()
		} else {
			compactHighWater = raw.CompactSequence
		}
		msg.CompactSequence = compactHighWater
		msg.IsCompacted = compactHighWater > 0
		ordinal++
		result.Messages = append(result.Messages, msg)

		for order, block := range raw.Content {
			cb := models.ContentBlock{
				ID:         idgen.New(),
				MessageID:  msgID,
				SessionID:  sessionID,
				BlockOrder: order,
				BlockType:  models.BlockType(block.Type),
				IsError:    block.IsError,
			}
			switch block.Type {
			case string(models.BlockTypeText), string(models.BlockTypeThinking):
				text := block.Text
				cb.ContentText = &text
			case string(models.BlockTypeToolUse):
				name := block.ToolName
				cb.ToolName = &name
				cb.ToolInput = block.ToolInput
			case string(models.BlockTypeToolResult):
				id := block.ToolUseID
				cb.ToolResultID = &id
				text := string(block.Content)
				if len(text) > ToolResultInlineLimit {
					result.Externalized[cb.ID] = text
				} else {
					cb.ContentText = &text
				}
			}
			result.Blocks = append(result.Blocks, cb)
		}
	}
	if err := scanner.Err(); err != nil {
		return ParsedTranscript{}, fmt.Errorf("pipeline: scanning transcript: %w", err)
	}
	return result, nil
}
