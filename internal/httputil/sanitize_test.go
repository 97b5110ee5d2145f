package httputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePayloadForLogging_ShortJSONPassesThrough(t *testing.T) {
	body := []byte(`{"role":"user","content":"hi"}`)
	out, truncated := SanitizePayloadForLogging(body, DefaultLogBodyLimit)
	require.False(t, truncated)
	require.Contains(t, string(out), `"content":"hi"`)
}

func TestSanitizePayloadForLogging_LongBase64StringRedactedWithinJSON(t *testing.T) {
	longB64 := strings.Repeat("QUJDREVGRw", 40)
	body := []byte(`{"image":"` + longB64 + `"}`)
	out, _ := SanitizePayloadForLogging(body, DefaultLogBodyLimit)
	require.Contains(t, string(out), "[base64 redacted]")
	require.NotContains(t, string(out), longB64)
}

func TestSanitizePayloadForLogging_DataURLRedactsPayloadKeepsHeader(t *testing.T) {
	longB64 := strings.Repeat("QUJDREVGRw", 40)
	body := []byte(`{"image":"data:image/png;base64,` + longB64 + `"}`)
	out, _ := SanitizePayloadForLogging(body, 4096)
	require.Contains(t, string(out), "data:image/png;base64,")
	require.Contains(t, string(out), "[base64 redacted]")
	require.NotContains(t, string(out), longB64)
}

func TestSanitizePayloadForLogging_NonJSONBodyRawTruncated(t *testing.T) {
	body := []byte(strings.Repeat("x", 100))
	out, truncated := SanitizePayloadForLogging(body, 10)
	require.True(t, truncated)
	require.Equal(t, "xxxxxxxxxx"+LogTruncationSuffix, string(out))
}

func TestSanitizePayloadForLogging_ShortNonBase64StringUntouched(t *testing.T) {
	body := []byte(`{"note":"not base64 at all, just text"}`)
	out, truncated := SanitizePayloadForLogging(body, DefaultLogBodyLimit)
	require.False(t, truncated)
	require.Contains(t, string(out), "not base64 at all, just text")
}

func TestIsLikelyBase64_RejectsStringsWithWhitespace(t *testing.T) {
	s := strings.Repeat("a", 300) + " " + strings.Repeat("b", 10)
	require.False(t, isLikelyBase64(s))
}

func TestIsLikelyBase64_RejectsShortStrings(t *testing.T) {
	require.False(t, isLikelyBase64("short"))
}

func TestIsLikelyBase64_AcceptsLongAlphabetOnlyString(t *testing.T) {
	require.True(t, isLikelyBase64(strings.Repeat("QUJDREVGRw==", 30)))
}
