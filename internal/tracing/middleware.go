package tracing

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Middleware wraps otelgin's instrumentation, matching the teacher's
// middleware/tracing_duplicate_traceid_test.go usage of
// otelgin.Middleware(serviceName) as the span-per-request gin middleware.
func Middleware() gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}
