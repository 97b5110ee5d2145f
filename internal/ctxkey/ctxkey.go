// Package ctxkey centralizes the gin.Context keys used across the pipeline,
// following the teacher's ctxkey convention of flat string constants instead
// of scattered magic strings.
package ctxkey

const (
	// RequestBody caches the raw request body so every stage can re-read it.
	RequestBody = "llmrouter-request-body"
	// RequestID is the per-request identifier used in logs and headers.
	RequestID = "llmrouter-request-id"
	// RouterTier records the tier chosen by the pipeline for this request.
	RouterTier = "llmrouter-tier"
	// RouterModel records the resolved upstream model name.
	RouterModel = "llmrouter-model"
	// RouterProvider records the resolved provider's logical name.
	RouterProvider = "llmrouter-provider"
	// ClientRequestPayloadLogged guards against logging the inbound payload
	// more than once per request.
	ClientRequestPayloadLogged = "llmrouter-client-payload-logged"
)
