package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmrouter/llmrouter/internal/routerconfig"
)

func TestInjectCredentials_OpenAIProviderUsesBearerToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	injectCredentials(req, routerconfig.ProviderConfig{Type: "openai", APIKey: "sk-oa-1"})

	require.Equal(t, "Bearer sk-oa-1", req.Header.Get("Authorization"))
	require.Empty(t, req.Header.Get("x-api-key"))
}

func TestInjectCredentials_AnthropicOAuthTokenGetsBearerAndBetaFlags(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	req.Header.Set("anthropic-beta", "existing-flag")
	injectCredentials(req, routerconfig.ProviderConfig{Type: "anthropic", APIKey: "sk-ant-oat-abcdef"})

	require.Equal(t, "Bearer sk-ant-oat-abcdef", req.Header.Get("Authorization"))
	require.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
	beta := req.Header.Get("anthropic-beta")
	require.Contains(t, beta, "existing-flag")
	require.Contains(t, beta, "oauth-2025-04-20")
	require.Contains(t, beta, "claude-code-20250219")
	require.Equal(t, "llmrouter", req.Header.Get("x-app"))
}

func TestInjectCredentials_PlainAnthropicKeyUsesXAPIKey(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	injectCredentials(req, routerconfig.ProviderConfig{Type: "anthropic", APIKey: "sk-ant-api-plain"})

	require.Equal(t, "sk-ant-api-plain", req.Header.Get("x-api-key"))
	require.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestMergeBetaFlags_DeduplicatesAndPreservesOrder(t *testing.T) {
	result := mergeBetaFlags("oauth-2025-04-20, custom-flag")
	require.Equal(t, "oauth-2025-04-20, custom-flag, claude-code-20250219", result)
}

func TestMergeBetaFlags_EmptyExistingYieldsOnlyRequired(t *testing.T) {
	result := mergeBetaFlags("")
	require.Equal(t, "oauth-2025-04-20, claude-code-20250219", result)
}
