package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmrouter/llmrouter/internal/relaymodel"
)

func TestAnthropicToOpenAIMessages_SystemString(t *testing.T) {
	req := &relaymodel.AnthropicRequest{
		System: "be concise",
		Messages: []relaymodel.AnthropicMessage{
			{Role: "user", Content: "hello"},
		},
	}
	msgs := AnthropicToOpenAIMessages(req)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "be concise", msgs[0].Content)
	require.Equal(t, "user", msgs[1].Role)
	require.Equal(t, "hello", msgs[1].Content)
}

func TestAnthropicToOpenAIMessages_SystemBlockList(t *testing.T) {
	req := &relaymodel.AnthropicRequest{
		System: []any{
			map[string]any{"type": "text", "text": "part one"},
			map[string]any{"type": "text", "text": "part two"},
		},
		Messages: []relaymodel.AnthropicMessage{{Role: "user", Content: "hi"}},
	}
	msgs := AnthropicToOpenAIMessages(req)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "part one part two", msgs[0].Content)
}

func TestAnthropicToOpenAIMessages_ToolUseFlushesImmediately(t *testing.T) {
	req := &relaymodel.AnthropicRequest{
		Messages: []relaymodel.AnthropicMessage{
			{
				Role: "assistant",
				Content: []relaymodel.ContentBlock{
					{Type: "text", Text: "before"},
					{Type: "tool_use", ID: "call_1", Name: "lookup", Input: map[string]any{"q": "weather"}},
					{Type: "text", Text: "after"},
				},
			},
		},
	}
	msgs := AnthropicToOpenAIMessages(req)

	// tool_use is flushed mid-loop; the combined text message (both text
	// blocks joined) is appended only after the loop over this message's
	// blocks completes — it is NOT interleaved in original block order.
	require.Len(t, msgs, 2)
	require.Equal(t, "assistant", msgs[0].Role)
	require.Len(t, msgs[0].ToolCalls, 1)
	require.Equal(t, "lookup", msgs[0].ToolCalls[0].Function.Name)
	require.JSONEq(t, `{"q":"weather"}`, msgs[0].ToolCalls[0].Function.Arguments)

	require.Equal(t, "assistant", msgs[1].Role)
	require.Equal(t, "before after", msgs[1].Content)
}

func TestAnthropicToOpenAIMessages_ToolResultBecomesToolRole(t *testing.T) {
	req := &relaymodel.AnthropicRequest{
		Messages: []relaymodel.AnthropicMessage{
			{
				Role: "user",
				Content: []relaymodel.ContentBlock{
					{Type: "tool_result", ToolUseID: "call_1", Content: "72F and sunny"},
				},
			},
		},
	}
	msgs := AnthropicToOpenAIMessages(req)
	require.Len(t, msgs, 1)
	require.Equal(t, "tool", msgs[0].Role)
	require.Equal(t, "call_1", msgs[0].ToolCallID)
	require.Equal(t, "72F and sunny", msgs[0].Content)
}

func TestAnthropicToOpenAIMessages_UntypedBlockListFromJSON(t *testing.T) {
	req := &relaymodel.AnthropicRequest{
		Messages: []relaymodel.AnthropicMessage{
			{Role: "user", Content: []any{
				map[string]any{"type": "text", "text": "hi there"},
			}},
		},
	}
	msgs := AnthropicToOpenAIMessages(req)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi there", msgs[0].Content)
}

func TestOpenAIResponseToAnthropic_ProjectsUsageAndText(t *testing.T) {
	resp := &relaymodel.OpenAIChatResponse{
		ID: "chatcmpl-1",
		Choices: []relaymodel.OpenAIChoice{
			{Message: relaymodel.OpenAIMessage{Role: "assistant", Content: "hi back"}},
		},
		Usage: relaymodel.OpenAIUsage{PromptTokens: 10, CompletionTokens: 4},
	}

	out := OpenAIResponseToAnthropic(resp, "claude-opus-4-6")
	require.Equal(t, "message", out.Type)
	require.Equal(t, "end_turn", out.StopReason)
	require.Equal(t, "claude-opus-4-6", out.Model)
	require.Len(t, out.Content, 1)
	require.Equal(t, "hi back", out.Content[0].Text)
	require.Equal(t, 10, out.Usage.InputTokens)
	require.Equal(t, 4, out.Usage.OutputTokens)
}

func TestOpenAIResponseToAnthropic_MissingIDDefaultsToMsgRouter(t *testing.T) {
	resp := &relaymodel.OpenAIChatResponse{Choices: []relaymodel.OpenAIChoice{{}}}
	out := OpenAIResponseToAnthropic(resp, "m")
	require.Equal(t, "msg_router", out.ID)
}
