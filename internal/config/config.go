// Package config loads the proxy's flat environment-variable surface,
// following the teacher's cmd entrypoint convention of loading .env once at
// process startup via godotenv before reading individual variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/Laisky/zap"
	"github.com/joho/godotenv"

	"github.com/llmrouter/llmrouter/internal/logger"
)

// Config is the flat ambient configuration this proxy reads directly from
// the process environment, as distinct from the structured router document
// loaded separately by internal/routerconfig.
type Config struct {
	// LLMAPIBase is the base URL the legacy (non-smart-router) forward
	// path sends requests to.
	LLMAPIBase string
	// LLMAPIKey is the credential injected into forwarded requests.
	LLMAPIKey string
	// LLMAPIProvider selects how the credential is injected: "anthropic"
	// (x-api-key header, or Authorization: Bearer for sk-ant-oat OAuth
	// tokens) or "openai" (Authorization: Bearer).
	LLMAPIProvider string

	// GuardURL is the external content-guard service endpoint. Empty
	// disables the content guard regardless of GuardEnabled.
	GuardURL string
	// GuardEnabled toggles the content-guard stage.
	GuardEnabled bool
	// GuardThreshold is the score at or above which the guard blocks a
	// request.
	GuardThreshold float64
	// GuardStripHiddenUnicode toggles stripping (true) vs blocking
	// (false) on hidden-Unicode detection.
	GuardStripHiddenUnicode bool

	// SmartRouterEnabled toggles the classifier-driven tier routing
	// pipeline; when false, requests always take the legacy forward path.
	SmartRouterEnabled bool
	// RouterConfigPath is the path to the structured router YAML document.
	RouterConfigPath string

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string

	// OTELEnabled toggles OpenTelemetry tracing.
	OTELEnabled bool
	// OTELExporterOTLPEndpoint is the OTLP HTTP trace collector endpoint.
	OTELExporterOTLPEndpoint string

	// PrometheusEnabled toggles the /metrics endpoint.
	PrometheusEnabled bool

	// LogLevel and LogJSON configure the process-wide logger.
	LogLevel string
	LogJSON  bool
}

// Load reads .env (if present) via godotenv and returns the parsed
// environment. A missing .env file is not an error, matching the teacher's
// best-effort dotenv loading.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warn("failed to load .env file", zap.Error(err))
	}

	cfg := &Config{
		LLMAPIBase:     strings.TrimRight(getenv("LLM_API_BASE", "https://api.anthropic.com"), "/"),
		LLMAPIKey:      getenv("LLM_API_KEY", ""),
		LLMAPIProvider: strings.ToLower(getenv("LLM_API_PROVIDER", "anthropic")),

		GuardURL:                getenv("GUARD_URL", ""),
		GuardEnabled:            getBool("GUARD_ENABLED", false),
		GuardThreshold:          getFloat("GUARD_THRESHOLD", 0.8),
		GuardStripHiddenUnicode: getBool("GUARD_STRIP_HIDDEN_UNICODE", true),

		SmartRouterEnabled: getBool("SMART_ROUTER_ENABLED", false),
		RouterConfigPath:   getenv("ROUTER_CONFIG_PATH", "/app/router-config.yaml"),

		ListenAddr: getenv("LISTEN_ADDR", ":8080"),

		OTELEnabled:              getBool("OTEL_ENABLED", false),
		OTELExporterOTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		PrometheusEnabled: getBool("PROMETHEUS_ENABLED", true),

		LogLevel: strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogJSON:  getBool("LOG_JSON", true),
	}

	if cfg.LLMAPIKey == "" {
		logger.Logger.Warn("LLM_API_KEY is not set; upstream requests will fail authentication")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		logger.Logger.Warn("invalid boolean env var, using default",
			zap.String("key", key), zap.String("value", v))
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Logger.Warn("invalid float env var, using default",
			zap.String("key", key), zap.String("value", v))
		return fallback
	}
	return parsed
}
