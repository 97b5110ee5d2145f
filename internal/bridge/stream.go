package bridge

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Laisky/errors/v2"

	"github.com/llmrouter/llmrouter/internal/relaymodel"
)

// StreamTranslator converts an OpenAI SSE stream into the Anthropic SSE
// event sequence, one incoming chunk at a time. Grounded on the original's
// _openai_stream_to_anthropic_sse: message_start, content_block_start,
// N x content_block_delta, content_block_stop, message_delta, message_stop.
type StreamTranslator struct {
	w                 io.Writer
	model             string
	started           bool
	totalOutputTokens int
}

// NewStreamTranslator builds a translator that writes Anthropic SSE events
// to w as OpenAI chunks are fed to it via Forward.
func NewStreamTranslator(w io.Writer, model string) *StreamTranslator {
	return &StreamTranslator{w: w, model: model}
}

// Start emits the message_start and content_block_start preamble. It emits
// the preamble only once; later calls are no-ops, and Forward and Finish call
// it themselves when it has not run yet.
func (s *StreamTranslator) Start() error {
	if s.started {
		return nil
	}
	s.started = true

	messageStart := map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      "msg_router",
			"type":    "message",
			"role":    "assistant",
			"model":   s.model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	}
	if err := s.emit("message_start", messageStart); err != nil {
		return err
	}

	contentBlockStart := map[string]any{
		"type":  "content_block_start",
		"index": 0,
		"content_block": map[string]any{
			"type": "text",
			"text": "",
		},
	}
	return s.emit("content_block_start", contentBlockStart)
}

// Forward translates one OpenAI streaming chunk into zero or one
// content_block_delta events, and records the running output-token count
// from any usage field the chunk carries.
func (s *StreamTranslator) Forward(chunk relaymodel.OpenAIStreamChunk) error {
	if !s.started {
		if err := s.Start(); err != nil {
			return err
		}
	}

	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		delta := map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": chunk.Choices[0].Delta.Content},
		}
		if err := s.emit("content_block_delta", delta); err != nil {
			return err
		}
	}

	if chunk.Usage != nil {
		s.totalOutputTokens = chunk.Usage.CompletionTokens
	}

	return nil
}

// Finish emits content_block_stop, message_delta (with the accumulated
// output-token count), and message_stop. Safe to call even if Start/Forward
// were never called (e.g. an immediately empty upstream stream).
func (s *StreamTranslator) Finish() error {
	if !s.started {
		if err := s.Start(); err != nil {
			return err
		}
	}

	if err := s.emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}); err != nil {
		return err
	}

	messageDelta := map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn"},
		"usage": map[string]any{"output_tokens": s.totalOutputTokens},
	}
	if err := s.emit("message_delta", messageDelta); err != nil {
		return err
	}

	return s.emit("message_stop", map[string]any{"type": "message_stop"})
}

// EmitError writes an Anthropic-shaped SSE error event for an upstream
// forwarding failure, matching the original's client_format=="anthropic"
// error branch.
func (s *StreamTranslator) EmitError(cause error) error {
	event := map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "api_error",
			"message": cause.Error(),
		},
	}
	return s.emit("error", event)
}

func (s *StreamTranslator) emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", event)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return errors.Wrapf(err, "write %s event", event)
	}
	return nil
}
