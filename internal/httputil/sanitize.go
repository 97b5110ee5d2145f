package httputil

import (
	"encoding/json"
	"strings"
)

const (
	// DefaultLogBodyLimit caps how many bytes of a request/response body are
	// kept in a debug log line.
	DefaultLogBodyLimit = 4096
	// LogTruncationSuffix marks a logged payload that was cut short.
	LogTruncationSuffix = "...[truncated]"

	base64RedactionThreshold = 256
	base64SampleSize         = 256
)

// SanitizePayloadForLogging returns a redacted, length-capped copy of body
// suitable for a debug log line, and whether truncation occurred. JSON
// bodies are parsed and their string leaves are sanitized individually so
// structure survives truncation; everything else is truncated as raw bytes.
func SanitizePayloadForLogging(body []byte, limit int) ([]byte, bool) {
	if limit <= 0 {
		limit = DefaultLogBodyLimit
	}

	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			sanitized := sanitizeJSONValueForLogging(parsed)
			out, err := json.Marshal(sanitized)
			if err == nil {
				return truncateBytes(out, limit)
			}
		}
	}

	return truncateBytes(body, limit)
}

func sanitizeJSONValueForLogging(v any) any {
	switch val := v.(type) {
	case string:
		return sanitizeStringForLogging(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeJSONValueForLogging(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeJSONValueForLogging(child)
		}
		return out
	default:
		return val
	}
}

func sanitizeStringForLogging(s string) string {
	if redacted, ok := sanitizeDataURL(s); ok {
		return redacted
	}
	if isLikelyBase64(s) {
		return truncateStringWithSuffix(s, base64SampleSize) + " [base64 redacted]"
	}
	return truncateStringWithSuffix(s, DefaultLogBodyLimit)
}

func sanitizeDataURL(s string) (string, bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", false
	}
	commaIdx := strings.Index(s, ",")
	if commaIdx < 0 {
		return "", false
	}
	header := s[:commaIdx]
	if !strings.Contains(header, "base64") {
		return "", false
	}
	payload := s[commaIdx+1:]
	return header + "," + truncateStringWithSuffix(payload, base64SampleSize) + " [base64 redacted]", true
}

func isLikelyBase64(s string) bool {
	if len(s) < base64RedactionThreshold {
		return false
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return false
	}

	sample := s
	if len(sample) > base64SampleSize {
		sample = sample[:base64SampleSize]
	}
	for _, r := range sample {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '+' && r != '/' && r != '=' {
			return false
		}
	}
	return true
}

func truncateStringWithSuffix(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + LogTruncationSuffix
}

func truncateBytes(b []byte, limit int) ([]byte, bool) {
	if len(b) <= limit {
		return b, false
	}
	out := make([]byte, 0, limit+len(LogTruncationSuffix))
	out = append(out, b[:limit]...)
	out = append(out, []byte(LogTruncationSuffix)...)
	return out, true
}
