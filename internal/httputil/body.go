// Package httputil adapts the teacher's request-body-reuse and SSE-header
// helpers (common/gin.go) to this module's gin context keys and logger.
package httputil

import (
	"bytes"
	"io"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/llmrouter/llmrouter/internal/ctxkey"
)

// GetRequestBody reads and caches the request body so every handler and
// pipeline stage can read it repeatedly without consuming the stream twice.
func GetRequestBody(c *gin.Context) ([]byte, error) {
	if cached, ok := c.Get(ctxkey.RequestBody); ok && cached != nil {
		return cached.([]byte), nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.RequestBody, body)

	return body, nil
}

// LogClientRequestPayload emits one DEBUG log of the inbound payload per
// request, then restores the body for reuse downstream.
func LogClientRequestPayload(c *gin.Context, limit int) error {
	if logged, ok := c.Get(ctxkey.ClientRequestPayloadLogged); ok {
		if flag, ok := logged.(bool); ok && flag {
			return nil
		}
	}

	body, err := GetRequestBody(c)
	if err != nil {
		return errors.Wrap(err, "get request body")
	}

	preview, truncated := SanitizePayloadForLogging(body, limit)
	gmw.GetLogger(c).Debug("client request received",
		zap.String("method", c.Request.Method),
		zap.String("url", c.Request.URL.String()),
		zap.Int("body_bytes", len(body)),
		zap.Bool("body_truncated", truncated),
		zap.ByteString("body_preview", preview))

	c.Set(ctxkey.ClientRequestPayloadLogged, true)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}

// SetEventStreamHeaders configures the standard headers for a streamed SSE
// response.
func SetEventStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Header().Set("Pragma", "no-cache")
}
