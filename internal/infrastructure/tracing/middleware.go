package tracing

import (
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
)

// HTTPMiddleware starts a span per request and echoes the trace headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTrace(c.Request.Context(),
			TraceID(c.GetHeader(HeaderTraceID)),
			SpanID(c.GetHeader(HeaderSpanID)))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

// RestyMiddleware propagates the trace of the request context to upstream
// calls.
func RestyMiddleware() resty.RequestMiddleware {
	return func(_ *resty.Client, req *resty.Request) error {
		ctx := req.Context()
		if traceID := GetTraceID(ctx); traceID != "" {
			req.SetHeader(HeaderTraceID, string(traceID))
		}
		if spanID := GetSpanID(ctx); spanID != "" {
			req.SetHeader(HeaderSpanID, string(spanID))
		}
		return nil
	}
}
