package proxy

import (
	"github.com/llmrouter/llmrouter/internal/classifier"
)

// extractGuardTexts pulls every user-facing text the guard stages should
// scan: the top-level "system" field, plus "user" messages (and, for an
// openai-provider proxy, "system"-role messages too), matching the
// original proxy's extract_messages. systemIsString reports whether the
// "system" field was a bare string (vs a list of text blocks), which
// rewriteGuardTexts needs to put stripped text back in the same shape.
func extractGuardTexts(body map[string]any, llmAPIProvider string) (texts []string, systemIsString bool) {
	if system, ok := body["system"]; ok {
		switch s := system.(type) {
		case string:
			texts = append(texts, s)
			systemIsString = true
		case []any:
			for _, raw := range s {
				if block, ok := raw.(map[string]any); ok && block["type"] == "text" {
					if t, ok := block["text"].(string); ok {
						texts = append(texts, t)
					}
				}
			}
		}
	}

	messages, _ := body["messages"].([]any)
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role != "user" && !(llmAPIProvider == "openai" && role == "system") {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			texts = append(texts, content)
		case []any:
			for _, raw := range content {
				if block, ok := raw.(map[string]any); ok && block["type"] == "text" {
					if t, ok := block["text"].(string); ok {
						texts = append(texts, t)
					}
				}
			}
		}
	}

	return texts, systemIsString
}

// rewriteGuardTexts writes stripped text back into body in the exact
// positions extractGuardTexts read them from, preserving traversal order.
func rewriteGuardTexts(body map[string]any, stripped []string, systemIsString bool) {
	i := 0
	next := func() string {
		if i >= len(stripped) {
			return ""
		}
		v := stripped[i]
		i++
		return v
	}

	if system, ok := body["system"]; ok {
		switch s := system.(type) {
		case string:
			_ = systemIsString
			body["system"] = next()
		case []any:
			for _, raw := range s {
				if block, ok := raw.(map[string]any); ok && block["type"] == "text" {
					block["text"] = next()
				}
			}
		}
	}

	messages, _ := body["messages"].([]any)
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role != "user" && role != "system" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			msg["content"] = next()
		case []any:
			for _, raw := range content {
				if block, ok := raw.(map[string]any); ok && block["type"] == "text" {
					block["text"] = next()
				}
			}
		}
	}
}

// buildClassifierRequest maps a parsed request body into the classifier's
// input shape, mirroring classifier.py's heuristic inputs: message count,
// tool count, extended-thinking flag, and per-message text for the
// last-user-message lookup.
func buildClassifierRequest(body map[string]any) classifier.Request {
	var req classifier.Request

	if tools, ok := body["tools"].([]any); ok {
		req.ToolCount = len(tools)
	}
	if thinking, ok := body["thinking"]; ok && thinking != nil && thinking != false {
		req.ExtendedThinking = true
	}
	if extended, ok := body["extended_thinking"].(bool); ok && extended {
		req.ExtendedThinking = true
	}

	messages, _ := body["messages"].([]any)
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		m := classifier.Message{Role: role}
		switch content := msg["content"].(type) {
		case string:
			m.Text = content
		case []any:
			m.IsBlock = true
			for _, raw := range content {
				if block, ok := raw.(map[string]any); ok && block["type"] == "text" {
					if t, ok := block["text"].(string); ok {
						if m.Text != "" {
							m.Text += " "
						}
						m.Text += t
					}
				}
			}
		}
		req.Messages = append(req.Messages, m)
	}

	return req
}
