package sseusage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract_AnthropicMessageStartAndDelta(t *testing.T) {
	e := New()
	_, _ = e.Write([]byte(`data: {"type":"message_start","message":{"model":"claude-opus-4-6","usage":{"input_tokens":12,"cache_read_input_tokens":3,"cache_creation_input_tokens":0}}}` + "\n\n"))
	_, _ = e.Write([]byte(`data: {"type":"content_block_delta","delta":{"text":"hi"}}` + "\n\n"))
	_, _ = e.Write([]byte(`data: {"type":"message_delta","usage":{"output_tokens":8}}` + "\n\n"))
	_, _ = e.Write([]byte("data: [DONE]\n\n"))

	u := e.Usage()
	require.Equal(t, "claude-opus-4-6", u.Model)
	require.Equal(t, 15, u.InputTokens)
	require.Equal(t, 8, u.OutputTokens)
	require.True(t, u.HasUsage())
}

func TestExtract_OpenAIFinalChunkWithUsage(t *testing.T) {
	e := New()
	_, _ = e.Write([]byte(`data: {"choices":[{"delta":{"content":"hi"}}],"model":"gpt-4o"}` + "\n\n"))
	_, _ = e.Write([]byte(`data: {"choices":[],"model":"gpt-4o","usage":{"prompt_tokens":20,"completion_tokens":5}}` + "\n\n"))
	_, _ = e.Write([]byte("data: [DONE]\n\n"))

	u := e.Usage()
	require.Equal(t, "gpt-4o", u.Model)
	require.Equal(t, 20, u.InputTokens)
	require.Equal(t, 5, u.OutputTokens)
}

func TestExtract_ChunkInvariance(t *testing.T) {
	full := `data: {"type":"message_start","message":{"model":"claude-opus-4-6","usage":{"input_tokens":12}}}` + "\n\n" +
		`data: {"type":"message_delta","usage":{"output_tokens":8}}` + "\n\n"

	wholeline := New()
	_, _ = wholeline.Write([]byte(full))

	// Feed the exact same bytes split across arbitrary, even mid-token,
	// boundaries and confirm the extracted usage is identical.
	bytewise := New()
	for i := 0; i < len(full); i++ {
		_, _ = bytewise.Write([]byte{full[i]})
	}

	require.Equal(t, wholeline.Usage(), bytewise.Usage())
}

func TestExtract_IgnoresNonDataLines(t *testing.T) {
	e := New()
	_, _ = e.Write([]byte("event: message_start\n"))
	_, _ = e.Write([]byte(`data: {"type":"message_start","message":{"model":"m","usage":{"input_tokens":1}}}` + "\n\n"))
	require.Equal(t, 1, e.Usage().InputTokens)
}

func TestExtract_SkipsLinesWithoutUsageOrModelFastFilter(t *testing.T) {
	e := New()
	_, _ = e.Write([]byte(`data: {"type":"ping"}` + "\n\n"))
	require.False(t, e.Usage().HasUsage())
	require.Equal(t, "", e.Usage().Model)
}

func TestExtract_MalformedJSONIsSwallowed(t *testing.T) {
	e := New()
	n, _ := e.Write([]byte(`data: {"usage": not-json` + "\n\n"))
	require.Equal(t, len(`data: {"usage": not-json`+"\n\n"), n)
	require.False(t, e.Usage().HasUsage())
}

func TestFinalize_FlushesTrailingPartialLineWithoutNewline(t *testing.T) {
	e := New()
	_, _ = e.Write([]byte(`data: {"type":"message_delta","usage":{"output_tokens":7}}`))
	require.False(t, e.Usage().HasUsage())
	e.Finalize()
	require.Equal(t, 7, e.Usage().OutputTokens)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	e := New()
	_, _ = e.Write([]byte(`data: {"type":"message_delta","usage":{"output_tokens":7}}`))
	e.Finalize()
	e.Finalize()
	require.Equal(t, 7, e.Usage().OutputTokens)
}
