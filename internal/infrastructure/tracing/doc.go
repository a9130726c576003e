/*
Package tracing correlates admin and link requests with the kernel work they
trigger.

Spans are timed operations grouped under a trace id. A trace arriving in the
X-Trace-ID header is continued; otherwise a new request id starts one.
Finished spans are buffered and written to the log by Serve, which runs under
the process supervisor. When the buffer is full spans are counted and dropped.

# Usage

	tracer := tracing.New("kernel", logger)
	sup.Add(tracer)

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "kernel.task")
	defer span.End()
*/
package tracing
