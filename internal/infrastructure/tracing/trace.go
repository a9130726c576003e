package tracing

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/shared/id"
)

// TraceID groups the spans of one request
type TraceID string

// SpanID identifies a single span
type SpanID string

// Span is one timed operation
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error
	fields   []zap.Field
	tracer   *Tracer
}

// Tracer collects finished spans and writes them to the log
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	dropped atomic.Uint64
}

// DefaultBuffer is the number of finished spans held before dropping
const DefaultBuffer = 256

// New creates a tracer. Spans are logged once Serve runs.
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, DefaultBuffer),
	}
}

// StartSpan opens a span, continuing the trace found in ctx if any
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}

	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.Default().GenerateString()),
		ParentID: SpanIDFrom(ctx),
		Name:     name,
		Start:    time.Now(),
		tracer:   t,
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Annotate attaches a field to the span's log line
func (s *Span) Annotate(f zap.Field) {
	s.fields = append(s.fields, f)
}

// Fail records err on the span
func (s *Span) Fail(err error) {
	s.Err = err
}

// End stops the clock and hands the span to the tracer
func (s *Span) End() {
	s.Duration = time.Since(s.Start)
	if s.tracer != nil {
		s.tracer.submit(s)
	}
}

func (t *Tracer) submit(span *Span) {
	select {
	case t.spans <- span:
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns how many spans were discarded on a full buffer
func (t *Tracer) Dropped() uint64 {
	return t.dropped.Load()
}

// Serve logs spans until ctx ends. Implements suture.Service.
func (t *Tracer) Serve(ctx context.Context) error {
	for {
		select {
		case span := <-t.spans:
			t.log(span)
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Tracer) String() string {
	return "tracer " + t.service
}

func (t *Tracer) log(span *Span) {
	fields := append([]zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.String("service", t.service),
	}, span.fields...)

	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.Status != 0 {
		fields = append(fields, zap.Int("status", span.Status))
	}

	if span.Err != nil {
		t.logger.Warn("Span failed", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("Span completed", fields...)
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDFrom returns the trace carried by ctx, empty if none
func TraceIDFrom(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceIDKey).(TraceID)
	return v
}

// SpanIDFrom returns the current span carried by ctx, empty if none
func SpanIDFrom(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanIDKey).(SpanID)
	return v
}

// WithParent seeds ctx with a trace received from a caller
func WithParent(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}
