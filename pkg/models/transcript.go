package models

import "time"

// Role identifies the speaker of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TranscriptMessage is one line of a parsed session transcript.
// (SessionID, Ordinal) is unique within a session — this is what makes
// persistence idempotent across pipeline retries ("on conflict do nothing").
type TranscriptMessage struct {
	ID                string
	SessionID         string
	LineNumber        int
	Ordinal           int
	Role              Role
	Model             *string
	TokensIn          *int64
	TokensOut         *int64
	TokensCacheRead   *int64
	TokensCacheWrite  *int64
	CostUSD           *float64
	CompactSequence   int
	IsCompacted       bool
	Timestamp         time.Time
	Metadata          map[string]any
}

// TokensCache derives the aggregate cache-token count from the persisted
// split fields. Per SPEC_FULL.md's Open Question decision, only the split
// fields (TokensCacheRead/TokensCacheWrite) are ever persisted; this is
// the single place the aggregate is computed, on read.
func (m *TranscriptMessage) TokensCache() int64 {
	var total int64
	if m.TokensCacheRead != nil {
		total += *m.TokensCacheRead
	}
	if m.TokensCacheWrite != nil {
		total += *m.TokensCacheWrite
	}
	return total
}

// BlockType enumerates the kinds of content a message can carry.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeThinking   BlockType = "thinking"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// ContentBlock is one ordered piece of content within a message. Large
// tool-result bodies are externalized to the object store; when
// ResultS3Key is set, ContentText for that block is not persisted inline.
type ContentBlock struct {
	ID           string
	MessageID    string
	SessionID    string
	BlockOrder   int
	BlockType    BlockType
	ContentText  *string
	ToolName     *string
	ToolInput    map[string]any
	ToolResultID *string
	ResultS3Key  *string
	IsError      bool
}
