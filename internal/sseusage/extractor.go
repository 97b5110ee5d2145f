// Package sseusage incrementally extracts model name and token counts from
// a passing Server-Sent Events stream without buffering the whole response.
// Grounded on the teacher's relay/adaptor/gemini StreamHandler line-scanning
// idiom (bufio.Scanner + ConfigureScannerBuffer's 64KB/32MB sizing), but
// redesigned around a chunk-fed Write so extraction is invariant to how the
// upstream TCP stream happens to be segmented.
package sseusage

import (
	"bytes"
	"encoding/json"
)

// initialLineBufferSize and maxLineSize mirror the teacher's scanner sizing
// (common/helper.ConfigureScannerBuffer) for the equivalent purpose: large
// individual SSE lines must not be truncated.
const (
	initialLineBufferSize = 64 * 1024
	maxLineSize           = 32 * 1024 * 1024
)

// Usage is the running token accumulation extracted from a stream.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// HasUsage reports whether any token count has been observed yet.
func (u Usage) HasUsage() bool {
	return u.InputTokens > 0 || u.OutputTokens > 0
}

// Extractor is a stateful, chunk-fed usage extractor. It is not safe for
// concurrent use; callers feed it from a single reader goroutine.
type Extractor struct {
	buf   []byte
	usage Usage
}

// New builds an Extractor with an empty accumulator.
func New() *Extractor {
	return &Extractor{buf: make([]byte, 0, initialLineBufferSize)}
}

// Write feeds the next chunk of raw bytes from the upstream response body.
// It always returns (len(p), nil): extraction failures never interrupt the
// relayed byte stream.
func (e *Extractor) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)

	for {
		idx := bytes.IndexByte(e.buf, '\n')
		if idx < 0 {
			break
		}
		line := e.buf[:idx]
		e.buf = e.buf[idx+1:]
		e.processLine(line)
	}

	if len(e.buf) > maxLineSize {
		// Unbounded line with no accounting signal in it; drop to bound memory.
		e.buf = e.buf[len(e.buf)-initialLineBufferSize:]
	}

	return len(p), nil
}

// Finalize flushes any trailing partial line left in the buffer (a stream
// that ends without a final newline). Safe to call multiple times.
func (e *Extractor) Finalize() {
	if len(e.buf) == 0 {
		return
	}
	e.processLine(e.buf)
	e.buf = e.buf[:0]
}

// Usage returns a snapshot of tokens accumulated so far.
func (e *Extractor) Usage() Usage {
	return e.usage
}

var dataPrefix = []byte("data: ")

func (e *Extractor) processLine(line []byte) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := bytes.TrimPrefix(line, dataPrefix)
	if bytes.Equal(payload, []byte("[DONE]")) {
		return
	}

	// Fast filter: avoid a JSON parse for lines that plainly can't carry an
	// accounting signal.
	if !bytes.Contains(payload, []byte(`"usage"`)) && !bytes.Contains(payload, []byte(`"model"`)) {
		return
	}

	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}

	e.extractFrom(event)
}

func (e *Extractor) extractFrom(event map[string]any) {
	if msg, ok := event["message"].(map[string]any); ok {
		// Anthropic message_start: usage nested under "message".
		if usage, ok := msg["usage"].(map[string]any); ok {
			e.usage.InputTokens += intField(usage, "input_tokens")
			e.usage.InputTokens += intField(usage, "cache_read_input_tokens")
			e.usage.InputTokens += intField(usage, "cache_creation_input_tokens")
		}
		if e.usage.Model == "" {
			if model, ok := msg["model"].(string); ok {
				e.usage.Model = model
			}
		}
		return
	}

	usage, hasUsage := event["usage"].(map[string]any)
	if !hasUsage {
		return
	}

	if _, isOpenAI := usage["prompt_tokens"]; isOpenAI {
		e.usage.InputTokens += intField(usage, "prompt_tokens")
		e.usage.OutputTokens += intField(usage, "completion_tokens")
		if e.usage.Model == "" {
			if model, ok := event["model"].(string); ok {
				e.usage.Model = model
			}
		}
		return
	}

	// Anthropic message_delta: top-level usage, no nested "message".
	e.usage.OutputTokens += intField(usage, "output_tokens")
}

func intField(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
