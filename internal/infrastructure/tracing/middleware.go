package tracing

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/shared/id"
)

// Propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

// HTTPMiddleware opens a span per request. Well-formed incoming trace
// headers are continued, anything else starts a new trace. The span's ids
// are echoed on the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, spanID, continued := parentHeaders(c)
		ctx := WithParent(c.Request.Context(), traceID, spanID)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		c.Request = c.Request.WithContext(ctx)

		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.Status = c.Writer.Status()
		span.Annotate(zap.String("client_ip", c.ClientIP()))
		if continued {
			if ts, err := id.Timestamp(string(traceID)); err == nil {
				span.Annotate(zap.Duration("trace_age", time.Since(ts)))
			}
		}
		if len(c.Errors) > 0 {
			span.Fail(c.Errors.Last())
		}
		span.End()
	}
}

// parentHeaders returns the propagated ids when the trace header holds a
// request id. A span header that is not a ULID is ignored.
func parentHeaders(c *gin.Context) (TraceID, SpanID, bool) {
	raw := c.GetHeader(TraceHeader)
	if raw == "" {
		return "", "", false
	}
	prefix, _, err := id.Split(raw)
	if err != nil || prefix != id.RequestPrefix {
		return "", "", false
	}
	span := c.GetHeader(SpanHeader)
	if !id.IsValid(span) {
		span = ""
	}
	return TraceID(raw), SpanID(span), true
}
