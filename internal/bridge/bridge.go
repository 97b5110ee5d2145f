// Package bridge translates Anthropic and OpenAI request/response/stream
// shapes for the case where the client's protocol differs from the target
// provider's protocol. Grounded on the original proxy's litellm_bridge.py,
// using OpenAI's schema as the canonical intermediate exactly as the
// original does (because its native translation library speaks that shape).
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/llmrouter/llmrouter/internal/relaymodel"
)

// AnthropicToOpenAIMessages converts an Anthropic request body into the
// OpenAI message list LiteLLM-equivalent backends expect.
//
// The tool_use/tool_result interleaving quirk of the original is preserved
// deliberately: text blocks accumulate across an entire source message and
// are flushed as a single combined message only after the loop over that
// message's content blocks completes, while tool_use/tool_result blocks are
// each flushed immediately as their own message. A message containing
// [text, tool_use, text] therefore emits the tool_use message before the
// concatenated text message, not in original block order.
func AnthropicToOpenAIMessages(req *relaymodel.AnthropicRequest) []relaymodel.OpenAIMessage {
	var messages []relaymodel.OpenAIMessage

	if system, text := systemText(req.System); text != "" || system {
		messages = append(messages, relaymodel.OpenAIMessage{Role: "system", Content: text})
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role == "" {
			role = "user"
		}

		switch content := msg.Content.(type) {
		case string:
			messages = append(messages, relaymodel.OpenAIMessage{Role: role, Content: content})
		case []any:
			messages = append(messages, blocksToMessages(role, content)...)
		case []relaymodel.ContentBlock:
			messages = append(messages, typedBlocksToMessages(role, content)...)
		default:
			messages = append(messages, relaymodel.OpenAIMessage{Role: role, Content: fmt.Sprintf("%v", content)})
		}
	}

	return messages
}

// systemText extracts the Anthropic "system" field's text, which may be a
// plain string or a list of text content blocks. The bool return reports
// whether a string variant was present at all (even empty), mirroring the
// original's isinstance(system, str) branch.
func systemText(system any) (wasString bool, text string) {
	switch s := system.(type) {
	case string:
		return true, s
	case []any:
		var parts []string
		for _, raw := range s {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if block["type"] == "text" {
				if t, ok := block["text"].(string); ok {
					parts = append(parts, t)
				}
			}
		}
		return false, joinNonEmpty(parts)
	default:
		return false, ""
	}
}

func joinNonEmpty(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// blocksToMessages handles the untyped []any shape content arrives in when
// decoded from raw JSON (map[string]any per block).
func blocksToMessages(role string, blocks []any) []relaymodel.OpenAIMessage {
	typed := make([]relaymodel.ContentBlock, 0, len(blocks))
	for _, raw := range blocks {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		block := relaymodel.ContentBlock{
			Type:      stringField(m, "type"),
			Text:      stringField(m, "text"),
			ID:        stringField(m, "id"),
			Name:      stringField(m, "name"),
			ToolUseID: stringField(m, "tool_use_id"),
			Content:   m["content"],
		}
		if input, ok := m["input"].(map[string]any); ok {
			block.Input = input
		}
		typed = append(typed, block)
	}
	return typedBlocksToMessages(role, typed)
}

func typedBlocksToMessages(role string, blocks []relaymodel.ContentBlock) []relaymodel.OpenAIMessage {
	var messages []relaymodel.OpenAIMessage
	var textParts []string

	for _, block := range blocks {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			messages = append(messages, relaymodel.OpenAIMessage{
				Role:    role,
				Content: nil,
				ToolCalls: []relaymodel.OpenAIToolCall{{
					ID:   block.ID,
					Type: "function",
					Function: relaymodel.OpenAIFunctionCall{
						Name:      block.Name,
						Arguments: string(args),
					},
				}},
			})
		case "tool_result":
			messages = append(messages, relaymodel.OpenAIMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    stringifyContent(block.Content),
			})
		}
	}

	if len(textParts) > 0 {
		messages = append(messages, relaymodel.OpenAIMessage{Role: role, Content: joinNonEmpty(textParts)})
	}

	return messages
}

func stringifyContent(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// OpenAIResponseToAnthropic projects a non-streaming OpenAI chat-completions
// response into the Anthropic message shape.
func OpenAIResponseToAnthropic(resp *relaymodel.OpenAIChatResponse, model string) *relaymodel.AnthropicResponse {
	var content []relaymodel.ContentBlock
	if len(resp.Choices) > 0 {
		if text, ok := resp.Choices[0].Message.Content.(string); ok && text != "" {
			content = append(content, relaymodel.ContentBlock{Type: "text", Text: text})
		}
	}

	id := resp.ID
	if id == "" {
		id = "msg_router"
	}

	return &relaymodel.AnthropicResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: "end_turn",
		Usage: relaymodel.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}
