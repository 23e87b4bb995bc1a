package pipeline_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtrack/eventpipeline/pkg/metrics"
	"github.com/devtrack/eventpipeline/pkg/models"
	"github.com/devtrack/eventpipeline/pkg/pipeline"
)

func TestParseTranscriptPreservesLineNumberAndAssignsOrdinal(t *testing.T) {
	raw := strings.Join([]string{
		`{"role":"user","timestamp":"2025-01-01T00:00:00Z","content":[{"type":"text","text":"hi"}]}`,
		``,
		`{"role":"assistant","timestamp":"2025-01-01T00:00:01Z","content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":5,"output_tokens":7}}`,
	}, "\n")

	parsed, err := pipeline.ParseTranscript("S1", strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed.Messages, 2)

	assert.Equal(t, 1, parsed.Messages[0].LineNumber)
	assert.Equal(t, 0, parsed.Messages[0].Ordinal)
	assert.Equal(t, 3, parsed.Messages[1].LineNumber)
	assert.Equal(t, 1, parsed.Messages[1].Ordinal)
	require.NotNil(t, parsed.Messages[1].TokensIn)
	assert.Equal(t, int64(5), *parsed.Messages[1].TokensIn)

	require.Len(t, parsed.Blocks, 2)
	assert.Equal(t, models.BlockTypeText, parsed.Blocks[0].BlockType)
	assert.Equal(t, "hi", *parsed.Blocks[0].ContentText)
}

func TestParseTranscriptExternalizesOversizedToolResult(t *testing.T) {
	big := strings.Repeat("x", pipeline.ToolResultInlineLimit+1)
	line := `{"role":"assistant","timestamp":"2025-01-01T00:00:00Z","content":[{"type":"tool_result","tool_use_id":"t1","content":"` + big + `"}]}`

	parsed, err := pipeline.ParseTranscript("S1", strings.NewReader(line))
	require.NoError(t, err)
	require.Len(t, parsed.Blocks, 1)

	block := parsed.Blocks[0]
	assert.Nil(t, block.ContentText)
	text, ok := parsed.Externalized[block.ID]
	require.True(t, ok)
	assert.Contains(t, text, big)
}

func TestParseTranscriptKeepsSmallToolResultInline(t *testing.T) {
	line := `{"role":"assistant","timestamp":"2025-01-01T00:00:00Z","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}`

	parsed, err := pipeline.ParseTranscript("S1", strings.NewReader(line))
	require.NoError(t, err)
	require.Len(t, parsed.Blocks, 1)
	assert.NotNil(t, parsed.Blocks[0].ContentText)
	assert.Empty(t, parsed.Externalized)
}

func TestParseTranscriptPropagatesCompactSequence(t *testing.T) {
	raw := strings.Join([]string{
		`{"role":"user","timestamp":"2025-01-01T00:00:00Z","content":[{"type":"text","text":"a"}]}`,
		`{"role":"user","timestamp":"2025-01-01T00:00:01Z","content":[{"type":"text","text":"b"}],"compact_sequence":1}`,
		`{"role":"user","timestamp":"2025-01-01T00:00:02Z","content":[{"type":"text","text":"c"}],"compact_sequence":2}`,
	}, "\n")

	parsed, err := pipeline.ParseTranscript("S1", strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed.Messages, 3)

	assert.Equal(t, 0, parsed.Messages[0].CompactSequence)
	assert.False(t, parsed.Messages[0].IsCompacted)
	assert.Equal(t, 1, parsed.Messages[1].CompactSequence)
	assert.True(t, parsed.Messages[1].IsCompacted)
	assert.Equal(t, 2, parsed.Messages[2].CompactSequence)
	assert.True(t, parsed.Messages[2].IsCompacted)
}

func TestParseTranscriptClampsRegressingCompactSequence(t *testing.T) {
	raw := strings.Join([]string{
		`{"role":"user","timestamp":"2025-01-01T00:00:00Z","content":[{"type":"text","text":"a"}],"compact_sequence":3}`,
		`{"role":"user","timestamp":"2025-01-01T00:00:01Z","content":[{"type":"text","text":"b"}],"compact_sequence":1}`,
	}, "\n")

	before := testutil.ToFloat64(metrics.TranscriptCompactSequenceRejectedTotal)

	parsed, err := pipeline.ParseTranscript("S1", strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed.Messages, 2)

	assert.Equal(t, 3, parsed.Messages[0].CompactSequence)
	assert.Equal(t, 3, parsed.Messages[1].CompactSequence, "regression clamped to the running high-water mark")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TranscriptCompactSequenceRejectedTotal))
}
