/*
Package tracing provides lightweight request tracing.

Every API request gets a span. The trace ID is taken from the X-Trace-ID
header when the caller sent one and generated otherwise; it is echoed back
and forwarded to LMS calls so one learner action can be followed across
services. Finished spans are logged through zap by a background collector.

# Usage

	tracer := tracing.New("scormhost", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))
	client.OnBeforeRequest(tracing.RestyMiddleware())

	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
