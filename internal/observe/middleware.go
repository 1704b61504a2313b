package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace id back to the client.
const CorrelationHeader = "X-Correlation-ID"

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack supports the websocket upgrade on the audio path.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer cannot hijack")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// MiddlewareOption adjusts [Middleware].
type MiddlewareOption func(*middleware)

// WithQuietPaths logs requests for the given URL paths at debug level.
// Probe and scrape endpoints are the usual candidates.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(m *middleware) { m.quiet = append(m.quiet, paths...) }
}

type middleware struct {
	metrics *Metrics
	prop    propagation.TextMapPropagator
	quiet   []string
}

// Middleware traces, times and logs every request. Incoming W3C trace
// context is honoured. Spans and the duration histogram are keyed by the
// matched ServeMux pattern so path values do not multiply series.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{metrics: m, prop: propagation.TraceContext{}}
	for _, o := range opts {
		o(mw)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mw.serve(next, w, r)
		})
	}
}

func (mw *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set(CorrelationHeader, cid)
	}
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	next.ServeHTTP(rw, r)
	elapsed := time.Since(start)

	route := r.URL.Path
	if r.Pattern != "" {
		route = r.Pattern
		span.SetName(route)
		span.SetAttributes(semconv.HTTPRoute(route))
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))

	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", route),
	))

	level := slog.LevelInfo
	if slices.Contains(mw.quiet, r.URL.Path) {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "http request",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rw.status),
		slog.Duration("duration", elapsed),
	)
}
